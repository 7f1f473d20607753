// Package restapi exposes the sidecar control-plane's read/write views
// over HTTP and WebSocket (spec sections 1, 2, 6): live proxy/group
// state, the connection registry's snapshot and kill operation, and
// provider status. Per spec section 1 this is "specified only where the
// core touches it" — handler bodies stay thin, delegating every decision
// to the packages that actually own the state (registry, group, provider).
//
// Grounded on the teacher's chi-based patterns are absent from the
// retrieval pack's telepresence code (it uses grpc, not a REST mux), so
// this package instead follows the go-chi/render request/response idiom
// directly and the sibling Clash-lineage manifest
// (other_examples/manifests/ElemenTP-Clash.Premium/go.mod) that pairs
// go-chi/chi, go-chi/render and github.com/jeelsboobz/websocket for
// exactly this surface.
package restapi

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/jeelsboobz/websocket"

	"github.com/relaycore/relayd/pkg/errcat"
	"github.com/relaycore/relayd/pkg/group"
	"github.com/relaycore/relayd/pkg/provider"
	"github.com/relaycore/relayd/pkg/registry"
	"github.com/relaycore/relayd/pkg/relog"
	"github.com/relaycore/relayd/pkg/tunnel"
)

// Server wires the control plane's handlers to the live runtime state. It
// holds no state of its own beyond a start timestamp: every read goes
// straight to the registry/outbounds/provider snapshot it was built with,
// and every config reload replaces the Server wholesale (spec section 9,
// "Dynamic reconfiguration").
type Server struct {
	Registry       *registry.Registry
	Outbounds      *tunnel.Outbounds
	ProxyProviders map[string]*provider.Provider
	RuleProviders  map[string]*provider.Provider

	startedAt time.Time
}

func NewServer(reg *registry.Registry, outbounds *tunnel.Outbounds, proxyProviders, ruleProviders map[string]*provider.Provider) *Server {
	return &Server{
		Registry:       reg,
		Outbounds:      outbounds,
		ProxyProviders: proxyProviders,
		RuleProviders:  ruleProviders,
		startedAt:      time.Now(),
	}
}

// Router builds the chi.Mux the caller mounts on its HTTP listener.
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()
	r.Get("/version", s.handleVersion)
	r.Route("/proxies", func(r chi.Router) {
		r.Get("/", s.handleListProxies)
		r.Get("/{name}", s.handleGetProxy)
		r.Put("/{name}", s.handleSelectProxy)
	})
	r.Route("/connections", func(r chi.Router) {
		r.Get("/", s.handleListConnections)
		r.Get("/ws", s.handleConnectionsWS)
		r.Delete("/", s.handleKillAll)
		r.Delete("/{id}", s.handleKillOne)
	})
	r.Get("/providers/proxies", s.handleProxyProviders)
	r.Get("/providers/rules", s.handleRuleProviders)
	return r
}

// ProxyView is the read model for one concrete proxy or group (spec
// section 3's Proxy/ProxyGroup capability set, collapsed to what the
// control plane needs to display).
type ProxyView struct {
	Name    string   `json:"name"`
	Type    string   `json:"type"`
	Alive   bool     `json:"alive"`
	DelayMs int64    `json:"delay_ms"`
	Now     string   `json:"now,omitempty"`
	All     []string `json:"all,omitempty"`
}

func (s *Server) viewFor(name string) (ProxyView, bool) {
	if g, ok := s.Outbounds.Groups[name]; ok {
		all := make([]string, 0, len(g.Members()))
		for _, m := range g.Members() {
			all = append(all, m.Name())
		}
		now := ""
		if cur := g.Now(); cur != nil {
			now = cur.Name()
		}
		return ProxyView{Name: g.Name(), Type: string(g.Kind()), Alive: g.Alive(), DelayMs: g.LastDelayMs(), Now: now, All: all}, true
	}
	if p, ok := s.Outbounds.Proxies[name]; ok {
		return ProxyView{Name: p.Name(), Type: string(p.Kind()), Alive: p.Alive(), DelayMs: p.LastDelayMs()}, true
	}
	return ProxyView{}, false
}

func (s *Server) handleListProxies(w http.ResponseWriter, r *http.Request) {
	names := make([]string, 0, len(s.Outbounds.Proxies)+len(s.Outbounds.Groups))
	for n := range s.Outbounds.Proxies {
		names = append(names, n)
	}
	for n := range s.Outbounds.Groups {
		names = append(names, n)
	}
	sort.Strings(names)

	views := make(map[string]ProxyView, len(names))
	for _, n := range names {
		v, _ := s.viewFor(n)
		views[n] = v
	}
	render.JSON(w, r, map[string]interface{}{"proxies": views})
}

func (s *Server) handleGetProxy(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	v, ok := s.viewFor(name)
	if !ok {
		renderErr(w, r, http.StatusNotFound, errcat.ControlErr.Newr(errcat.ReasonNotFound, "no such proxy: "+name))
		return
	}
	render.JSON(w, r, v)
}

// selectRequest is the body of PUT /proxies/{name}: switch a Selector
// group's current member (spec section 4.5, "mutated only by the control
// plane").
type selectRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleSelectProxy(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	g, ok := s.Outbounds.Groups[name]
	if !ok {
		renderErr(w, r, http.StatusNotFound, errcat.ControlErr.Newr(errcat.ReasonNotFound, "no such group: "+name))
		return
	}
	sel, ok := g.(*group.Selector)
	if !ok {
		renderErr(w, r, http.StatusBadRequest, errcat.ControlErr.Newr(errcat.ReasonInvalidArg, "group is not selectable: "+name))
		return
	}
	var body selectRequest
	if err := render.DecodeJSON(r.Body, &body); err != nil {
		renderErr(w, r, http.StatusBadRequest, errcat.ControlErr.Newr(errcat.ReasonInvalidArg, err))
		return
	}
	if err := sel.Select(body.Name); err != nil {
		renderErr(w, r, http.StatusNotFound, err)
		return
	}
	render.NoContent(w, r)
}

// ConnectionView is the control-plane projection of registry.Snapshot.
type ConnectionView struct {
	ID          string    `json:"id"`
	Network     string    `json:"network"`
	Source      string    `json:"source"`
	Destination string    `json:"destination"`
	Rule        string    `json:"rule"`
	Chain       []string  `json:"chain"`
	Start       time.Time `json:"start"`
	Upload      int64     `json:"upload"`
	Download    int64     `json:"download"`
}

func connectionViews(snaps []registry.Snapshot) []ConnectionView {
	out := make([]ConnectionView, 0, len(snaps))
	for _, c := range snaps {
		out = append(out, ConnectionView{
			ID: c.ID, Network: c.Network, Source: c.Source, Destination: c.Destination,
			Rule: c.RuleMatched, Chain: c.ProxyChain, Start: c.StartTime,
			Upload: c.Uploaded, Download: c.Downloaded,
		})
	}
	return out
}

func (s *Server) handleListConnections(w http.ResponseWriter, r *http.Request) {
	up, down := s.Registry.TotalCounters()
	render.JSON(w, r, map[string]interface{}{
		"connections":     connectionViews(s.Registry.Snapshot()),
		"uploadTotal":     up,
		"downloadTotal":   down,
	})
}

func (s *Server) handleKillOne(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.Registry.Kill(id) {
		renderErr(w, r, http.StatusNotFound, errcat.ControlErr.Newr(errcat.ReasonNotFound, "no such connection: "+id))
		return
	}
	render.NoContent(w, r)
}

func (s *Server) handleKillAll(w http.ResponseWriter, r *http.Request) {
	s.Registry.KillAll()
	render.NoContent(w, r)
}

// handleConnectionsWS streams the connection snapshot once per second
// until the client disconnects. It is the only websocket endpoint the
// router mounts; there is no "/logs" stream.
func (s *Server) handleConnectionsWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.CloseNow()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "")
			return
		case <-ticker.C:
			up, down := s.Registry.TotalCounters()
			payload := map[string]interface{}{
				"connections":   connectionViews(s.Registry.Snapshot()),
				"uploadTotal":   up,
				"downloadTotal": down,
			}
			data, err := json.Marshal(payload)
			if err != nil {
				continue
			}
			if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
				relog.Debugf(ctx, "restapi: connections ws write failed: %v", err)
				return
			}
		}
	}
}

// ProviderView is the read model for one provider's refresh status (spec
// section 4.6, "surface to control plane: ProviderError as provider
// status").
type ProviderView struct {
	Name      string    `json:"name"`
	UpdatedAt time.Time `json:"updatedAt"`
	LastError string    `json:"lastError,omitempty"`
}

func providerViews(providers map[string]*provider.Provider) map[string]ProviderView {
	out := make(map[string]ProviderView, len(providers))
	for name, p := range providers {
		st := p.Status()
		v := ProviderView{Name: st.Name, UpdatedAt: st.UpdatedAt}
		if st.LastError != nil {
			v.LastError = st.LastError.Error()
		}
		out[name] = v
	}
	return out
}

func (s *Server) handleProxyProviders(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]interface{}{"providers": providerViews(s.ProxyProviders)})
}

func (s *Server) handleRuleProviders(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]interface{}{"providers": providerViews(s.RuleProviders)})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]interface{}{"version": "relayd", "uptime": time.Since(s.startedAt).String()})
}

// errResponse is the go-chi/render error Renderer, the same shape the
// ecosystem's chi example APIs use.
type errResponse struct {
	Err        error  `json:"-"`
	StatusCode int    `json:"-"`
	StatusText string `json:"status"`
	ErrorText  string `json:"error,omitempty"`
}

func (e *errResponse) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, e.StatusCode)
	return nil
}

func renderErr(w http.ResponseWriter, r *http.Request, code int, err error) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	_ = render.Render(w, r, &errResponse{Err: err, StatusCode: code, StatusText: http.StatusText(code), ErrorText: msg})
}
