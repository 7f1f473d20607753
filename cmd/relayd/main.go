// Command relayd runs the proxy core: it loads a configuration document,
// builds the runtime snapshot, and supervises every background loop and
// listener until told to shut down (spec sections 5 and 6). Grounded on
// the teacher's cmd/podd/main.go entrypoint shape (dgroup.NewGroup +
// grp.Go per subsystem + grp.Wait), trimmed of its Kubernetes/cobra
// surface since this core has no CLI argument surface of its own.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/datawire/dlib/dcontext"
	"github.com/datawire/dlib/dgroup"
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"github.com/relaycore/relayd/pkg/config"
	"github.com/relaycore/relayd/pkg/group"
	"github.com/relaycore/relayd/pkg/inbound"
	"github.com/relaycore/relayd/pkg/registry"
	"github.com/relaycore/relayd/pkg/relog"
	"github.com/relaycore/relayd/pkg/restapi"
	"github.com/relaycore/relayd/pkg/tunnel"
)

// Exit codes from spec section 6.
const (
	exitOK           = 0
	exitConfigError  = 1
	exitBindFailure  = 2
	exitRuntimeFatal = 3
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the configuration document")
	flag.Parse()

	entry := logrus.NewEntry(logrus.StandardLogger())
	ctx := relog.WithLogger(dcontext.WithSoftness(context.Background()), entry)

	doc, err := config.Load(*configPath)
	if err != nil {
		relog.Errorf(ctx, "relayd: failed to load configuration: %v", err)
		return exitConfigError
	}
	if lvl, lerr := logrus.ParseLevel(doc.LogLevel); lerr == nil {
		logrus.SetLevel(lvl)
	}

	snap, err := config.Build(doc)
	if err != nil {
		relog.Errorf(ctx, "relayd: failed to build configuration: %v", err)
		return exitConfigError
	}
	defer snap.Cache.Close()

	for _, m := range snap.Sidecars {
		m.Start(ctx)
	}
	defer func() {
		for _, m := range snap.Sidecars {
			m.Stop()
		}
	}()

	reg := registry.New()
	tun := tunnel.New(snap.Engine, snap.Outbounds, reg)

	listeners, err := startListeners(ctx, doc, tun)
	if err != nil {
		relog.Errorf(ctx, "relayd: failed to bind a listener: %v", err)
		if cerr := closeAll(listeners); cerr != nil {
			relog.Warnf(ctx, "relayd: error closing listeners: %v", cerr)
		}
		return exitBindFailure
	}
	defer func() {
		if err := closeAll(listeners); err != nil {
			relog.Warnf(ctx, "relayd: error closing listeners: %v", err)
		}
	}()

	grp := dgroup.NewGroup(ctx, dgroup.GroupConfig{
		SoftShutdownTimeout:  5 * time.Second,
		EnableSignalHandling: true,
		ShutdownOnNonError:   false,
	})

	for name, p := range snap.ProxyProviders {
		p := p
		grp.Go("provider-proxy-"+name, func(ctx context.Context) error {
			p.Run(ctx)
			return nil
		})
	}
	for name, p := range snap.RuleProviders {
		p := p
		grp.Go("provider-rule-"+name, func(ctx context.Context) error {
			p.Run(ctx)
			return nil
		})
	}

	for name, g := range snap.Outbounds.Groups {
		switch runner := g.(type) {
		case *group.URLTest:
			name, runner := name, runner
			grp.Go("healthcheck-"+name, func(ctx context.Context) error {
				runner.Run(ctx)
				return nil
			})
		case *group.Fallback:
			name, runner := name, runner
			grp.Go("healthcheck-"+name, func(ctx context.Context) error {
				runner.Run(ctx)
				return nil
			})
		}
	}

	if doc.ExternalController != "" {
		srv := restapi.NewServer(reg, snap.Outbounds, snap.ProxyProviders, snap.RuleProviders)
		httpServer := &http.Server{Addr: doc.ExternalController, Handler: srv.Router()}
		grp.Go("control-plane", func(ctx context.Context) error {
			errCh := make(chan error, 1)
			go func() { errCh <- httpServer.ListenAndServe() }()
			select {
			case <-ctx.Done():
				shutdownCtx, cancel := context.WithTimeout(dcontext.WithoutCancel(ctx), 5*time.Second)
				defer cancel()
				return httpServer.Shutdown(shutdownCtx)
			case err := <-errCh:
				return err
			}
		})
	}

	relog.Infof(ctx, "relayd: started with %d proxies, %d groups", len(snap.Outbounds.Proxies), len(snap.Outbounds.Groups))

	if err := grp.Wait(); err != nil {
		relog.Errorf(ctx, "relayd: exited with error: %v", err)
		reg.KillAll()
		return exitRuntimeFatal
	}
	reg.KillAll()
	return exitOK
}

type closer interface{ Close() error }

// closeAll closes every listener, collecting every failure rather than
// stopping at the first one so a single stuck listener never masks the
// others' shutdown errors.
func closeAll(cs []closer) error {
	var result *multierror.Error
	for _, c := range cs {
		if err := c.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// startListeners binds every inbound configured in doc.Inbound, returning
// what was started so far (already-bound listeners) alongside any bind
// error — the caller closes what succeeded before exiting.
func startListeners(ctx context.Context, doc *config.Document, tun *tunnel.Tunnel) ([]closer, error) {
	var out []closer
	bindAddr := doc.BindAddress
	if bindAddr == "" {
		bindAddr = "127.0.0.1"
	}
	if !doc.AllowLan {
		bindAddr = "127.0.0.1"
	}

	if doc.Inbound.HTTPPort != 0 {
		l := inbound.NewHTTPListener(tun)
		l.Username = doc.Inbound.Username
		l.Password = doc.Inbound.Password
		if err := l.Start(ctx, fmt.Sprintf("%s:%d", bindAddr, doc.Inbound.HTTPPort)); err != nil {
			return out, err
		}
		out = append(out, l)
	}
	if doc.Inbound.SocksPort != 0 {
		l := inbound.NewSOCKS5Listener(tun)
		l.Username = doc.Inbound.Username
		l.Password = doc.Inbound.Password
		if err := l.Start(ctx, fmt.Sprintf("%s:%d", bindAddr, doc.Inbound.SocksPort)); err != nil {
			return out, err
		}
		out = append(out, l)
	}
	if doc.Inbound.MixedPort != 0 {
		l := inbound.NewMixedListener(tun, doc.Inbound.Username, doc.Inbound.Password)
		if err := l.Start(ctx, fmt.Sprintf("%s:%d", bindAddr, doc.Inbound.MixedPort)); err != nil {
			return out, err
		}
		out = append(out, l)
	}
	return out, nil
}
