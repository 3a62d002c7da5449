package guard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"sync"
	"time"

	"github.com/doyensec/safeurl"
	"golang.org/x/sync/singleflight"
)

// IP sources reported on restriction events.
const (
	SourceRequest = "request"
	SourceLookup  = "lookup"
	SourceError   = "error"
)

// ErrNoClientIP is returned when no usable address can be derived for a request.
var ErrNoClientIP = errors.New("guard: client ip unavailable")

// RestrictionSource loads the per-user allow-list. An empty list means unrestricted.
type RestrictionSource interface {
	IPRestrictions(ctx context.Context, userID int64) ([]string, error)
}

// IPResolver derives the address a request is attributed to.
type IPResolver interface {
	Resolve(ctx context.Context, r *http.Request) (netip.Addr, string, error)
}

// RequestResolver uses the request's remote address. Mount chi's RealIP in front of it
// when running behind a proxy.
type RequestResolver struct{}

// Resolve implements IPResolver.
func (RequestResolver) Resolve(_ context.Context, r *http.Request) (netip.Addr, string, error) {
	addr, err := parseRemote(r.RemoteAddr)
	if err != nil {
		return netip.Addr{}, SourceRequest, err
	}
	return addr, SourceRequest, nil
}

func parseRemote(remote string) (netip.Addr, error) {
	remote = strings.TrimSpace(remote)
	if ap, err := netip.ParseAddrPort(remote); err == nil {
		return ap.Addr().Unmap(), nil
	}
	if host, _, err := net.SplitHostPort(remote); err == nil {
		remote = host
	}
	addr, err := netip.ParseAddr(remote)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("%w: %q", ErrNoClientIP, remote)
	}
	return addr.Unmap(), nil
}

// LookupResolver asks an external service for the public address when the request
// arrives from a private or loopback address. The service answers {"ip": "..."}.
//
// The answer is the server's own egress address, so every private client is
// attributed to it. Configure an endpoint only when private clients reach the
// internet through that same egress, such as a single-site install. With no
// endpoint a private client is attributed to its own address, and restricted
// accounts are denied unless that address is on their allow-list.
type LookupResolver struct {
	endpoint string
	client   *http.Client
	ttl      time.Duration
	logger   *slog.Logger
	now      func() time.Time

	group singleflight.Group

	mu        sync.Mutex
	cached    netip.Addr
	cachedAt  time.Time
	cacheFull bool
}

// NewLookupResolver constructs a LookupResolver. A nil client gets an SSRF-safe client
// that only dials public addresses on ports 80 and 443.
func NewLookupResolver(endpoint string, timeout, ttl time.Duration, client *http.Client, logger *slog.Logger) *LookupResolver {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	if client == nil {
		config := safeurl.GetConfigBuilder().
			SetTimeout(timeout).
			SetAllowedSchemes("http", "https").
			SetAllowedPorts(80, 443).
			Build()
		client = safeurl.Client(config).Client
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := *client
	c.Timeout = timeout
	return &LookupResolver{endpoint: endpoint, client: &c, ttl: ttl, logger: logger, now: time.Now}
}

// Resolve implements IPResolver.
func (l *LookupResolver) Resolve(ctx context.Context, r *http.Request) (netip.Addr, string, error) {
	addr, err := parseRemote(r.RemoteAddr)
	if err == nil && addr.IsGlobalUnicast() && !addr.IsPrivate() {
		return addr, SourceRequest, nil
	}
	if l.endpoint == "" {
		if err != nil {
			return netip.Addr{}, SourceRequest, err
		}
		return addr, SourceRequest, nil
	}
	public, lookupErr := l.public(ctx)
	if lookupErr != nil {
		return netip.Addr{}, SourceLookup, lookupErr
	}
	return public, SourceLookup, nil
}

func (l *LookupResolver) public(ctx context.Context) (netip.Addr, error) {
	l.mu.Lock()
	if l.cacheFull && l.now().Sub(l.cachedAt) < l.ttl {
		addr := l.cached
		l.mu.Unlock()
		return addr, nil
	}
	l.mu.Unlock()

	v, err, _ := l.group.Do("public", func() (any, error) {
		addr, err := l.fetch(context.WithoutCancel(ctx))
		if err != nil {
			return netip.Addr{}, err
		}
		l.mu.Lock()
		l.cached, l.cachedAt, l.cacheFull = addr, l.now(), true
		l.mu.Unlock()
		return addr, nil
	})
	if err != nil {
		l.logger.Warn("ip lookup failed", slog.String("endpoint", l.endpoint), slog.Any("error", err))
		return netip.Addr{}, err
	}
	return v.(netip.Addr), nil
}

func (l *LookupResolver) fetch(ctx context.Context) (netip.Addr, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.endpoint, nil)
	if err != nil {
		return netip.Addr{}, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := l.client.Do(req)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("guard: ip lookup: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return netip.Addr{}, fmt.Errorf("guard: ip lookup status %d", resp.StatusCode)
	}
	var body struct {
		IP string `json:"ip"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&body); err != nil {
		return netip.Addr{}, fmt.Errorf("guard: decode ip lookup: %w", err)
	}
	addr, err := netip.ParseAddr(strings.TrimSpace(body.IP))
	if err != nil {
		return netip.Addr{}, fmt.Errorf("guard: ip lookup answered %q: %w", body.IP, err)
	}
	return addr.Unmap(), nil
}

// AllowList is a parsed set of allowed addresses and networks.
type AllowList struct {
	prefixes []netip.Prefix
	size     int
}

// ParseAllowList accepts single addresses and CIDR prefixes. Entries that do not
// parse are skipped and reported, and still count toward Size so a list made only of
// invalid entries allows nothing.
func ParseAllowList(entries []string) (AllowList, error) {
	var (
		list AllowList
		errs []error
	)
	for _, raw := range entries {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		list.size++
		if strings.Contains(raw, "/") {
			prefix, err := netip.ParsePrefix(raw)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			list.prefixes = append(list.prefixes, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		addr = addr.Unmap()
		list.prefixes = append(list.prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return list, errors.Join(errs...)
}

// Size returns the number of configured entries.
func (a AllowList) Size() int {
	return a.size
}

// Empty reports whether the list imposes no restriction.
func (a AllowList) Empty() bool {
	return a.size == 0
}

// Allows reports whether addr is inside the list. An empty list allows everything.
func (a AllowList) Allows(addr netip.Addr) bool {
	if a.Empty() {
		return true
	}
	addr = addr.Unmap()
	for _, p := range a.prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// IPVerdict is the outcome of an IP restriction check.
type IPVerdict struct {
	Restricted   bool
	IP           string
	AllowedCount int
	Source       string
}

// IPRestriction checks a request against the user's allow-list. The check resolves the
// client address before answering, and any failure on a restricted account denies.
type IPRestriction struct {
	source   RestrictionSource
	resolver IPResolver
	logger   *slog.Logger
}

// NewIPRestriction constructs the checker. resolver defaults to RequestResolver.
func NewIPRestriction(source RestrictionSource, resolver IPResolver, logger *slog.Logger) *IPRestriction {
	if resolver == nil {
		resolver = RequestResolver{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &IPRestriction{source: source, resolver: resolver, logger: logger}
}

// Check evaluates r for userID.
func (c *IPRestriction) Check(ctx context.Context, r *http.Request, userID int64) IPVerdict {
	entries, err := c.source.IPRestrictions(ctx, userID)
	if err != nil {
		c.logger.Error("ip restrictions unavailable", slog.Int64("user_id", userID), slog.Any("error", err))
		return IPVerdict{Restricted: true, Source: SourceError}
	}
	list, err := ParseAllowList(entries)
	if err != nil {
		c.logger.Warn("invalid ip restriction entries", slog.Int64("user_id", userID), slog.Any("error", err))
	}
	if list.Empty() {
		return IPVerdict{}
	}
	addr, source, err := c.resolver.Resolve(ctx, r)
	if err != nil {
		c.logger.Warn("client ip unresolved", slog.Int64("user_id", userID), slog.Any("error", err))
		return IPVerdict{Restricted: true, AllowedCount: list.Size(), Source: SourceError}
	}
	return IPVerdict{
		Restricted:   !list.Allows(addr),
		IP:           addr.String(),
		AllowedCount: list.Size(),
		Source:       source,
	}
}
