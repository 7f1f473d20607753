package provider

import (
	"strconv"
	"strings"
)

// parseSubscriptionUserinfo parses a header shaped like
// "upload=123; download=456; total=789; expire=1714000000" into a
// SubscriptionInfo, ignoring unrecognized fields and malformed values.
func parseSubscriptionUserinfo(header string) SubscriptionInfo {
	var info SubscriptionInfo
	for _, part := range strings.Split(header, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			continue
		}
		v, err := strconv.ParseInt(strings.TrimSpace(kv[1]), 10, 64)
		if err != nil {
			continue
		}
		switch strings.TrimSpace(kv[0]) {
		case "upload":
			info.Upload = v
		case "download":
			info.Download = v
		case "total":
			info.Total = v
		case "expire":
			info.Expire = v
		}
	}
	return info
}
