package pki

import (
	"context"
	"crypto/x509"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/erx-fd/erx-server/internal/logger"
	"github.com/erx-fd/erx-server/internal/sched"
)

// ErrNoSnapshot is returned by any read accessor whose artefact has never
// completed a first successful fetch.
var ErrNoSnapshot = fmt.Errorf("pki: trust material not yet available")

// Store owns the server's current trust material: TSL, BNetzA-VL, the IDP's
// PUK_TOKEN, the server's own encryption certificate, and a cache of OCSP
// staples. Readers take a snapshot via atomic.Pointer loads and never block
// a concurrent refresh; refreshes build a brand-new Snapshot off to the
// side and swap it in once complete.
type Store struct {
	tsl     atomic.Pointer[Snapshot]
	bnetza  atomic.Pointer[Snapshot]
	puk     atomic.Pointer[PukToken]
	encCert *x509.Certificate

	ocspMu sync.RWMutex
	ocsp   map[string]OCSPResponse

	client *http.Client
	log    logger.Logger
	sched  *sched.Scheduler

	tslURL     string
	bnetzaURL  string
	pukURL     string
	refresh    time.Duration
	backoffCap time.Duration
	ocspMaxAge time.Duration
}

// Config bundles the URLs and timing parameters a Store needs.
type Config struct {
	TslURL            string
	BnetzaURL         string
	PukTokenURL       string
	RefreshInterval   time.Duration
	RefreshBackoffCap time.Duration
	OcspStaleAfter    time.Duration
}

// NewStore builds a Store around encCert, the server's long-lived
// encryption certificate, immutable for the process lifetime.
func NewStore(cfg Config, encCert *x509.Certificate, log logger.Logger) *Store {
	s := &Store{
		encCert:    encCert,
		ocsp:       make(map[string]OCSPResponse),
		client:     &http.Client{Timeout: 30 * time.Second},
		log:        log,
		tslURL:     cfg.TslURL,
		bnetzaURL:  cfg.BnetzaURL,
		pukURL:     cfg.PukTokenURL,
		refresh:    cfg.RefreshInterval,
		backoffCap: cfg.RefreshBackoffCap,
		ocspMaxAge: cfg.OcspStaleAfter,
	}
	if s.refresh == 0 {
		s.refresh = 12 * time.Hour
	}
	if s.backoffCap == 0 {
		s.backoffCap = 15 * time.Minute
	}
	if s.ocspMaxAge == 0 {
		s.ocspMaxAge = OcspMaxAge
	}
	return s
}

// Tsl returns the currently installed TSL snapshot, or ErrNoSnapshot if the
// first fetch has not completed.
func (s *Store) Tsl() (*Snapshot, error) { return loadOrErr(&s.tsl) }

// Bnetza returns the currently installed BNetzA-VL snapshot.
func (s *Store) Bnetza() (*Snapshot, error) { return loadOrErr(&s.bnetza) }

// PukToken returns the IDP's current signing key and certificate.
func (s *Store) PukToken() (*PukToken, error) {
	p := s.puk.Load()
	if p == nil {
		return nil, ErrNoSnapshot
	}
	return p, nil
}

// EncCert returns the server's own encryption certificate, set once at
// construction and never replaced.
func (s *Store) EncCert() *x509.Certificate { return s.encCert }

// SetScheduler attaches the process-wide scheduler so the background
// refresh loops yield to in-flight VAU-decryption work (LowPrio) instead
// of competing with it for CPU. A Store with no attached scheduler runs
// its loops unthrottled, as before.
func (s *Store) SetScheduler(sch *sched.Scheduler) { s.sched = sch }

func loadOrErr(p *atomic.Pointer[Snapshot]) (*Snapshot, error) {
	v := p.Load()
	if v == nil {
		return nil, ErrNoSnapshot
	}
	return v, nil
}

// OcspFor returns the latest cached OCSP staple for an end-entity
// certificate's fingerprint, and whether it is present at all (freshness is the caller's
// concern via OCSPResponse.IsFresh).
func (s *Store) OcspFor(fingerprint string) (OCSPResponse, bool) {
	s.ocspMu.RLock()
	defer s.ocspMu.RUnlock()
	r, ok := s.ocsp[fingerprint]
	return r, ok
}

func (s *Store) putOcsp(fingerprint string, r OCSPResponse) {
	s.ocspMu.Lock()
	defer s.ocspMu.Unlock()
	s.ocsp[fingerprint] = r
}

// AllOCSP returns a snapshot copy of every cached OCSP staple, keyed by
// end-entity fingerprint, for the server's OCSPList endpoint.
func (s *Store) AllOCSP() map[string]OCSPResponse {
	s.ocspMu.RLock()
	defer s.ocspMu.RUnlock()
	out := make(map[string]OCSPResponse, len(s.ocsp))
	for k, v := range s.ocsp {
		out[k] = v
	}
	return out
}

// RefreshOcspFor fetches and caches a fresh OCSP staple for leaf, issued by
// issuer, querying the caller-supplied responderURLs, and keys the cache
// entry by leaf's fingerprint.
func (s *Store) RefreshOcspFor(ctx context.Context, leaf, issuer *x509.Certificate, responderURLs []string) error {
	resp, err := fetchOCSP(ctx, s.client, leaf, issuer, responderURLs)
	if err != nil {
		return err
	}
	s.putOcsp(Fingerprint(leaf), *resp)
	return nil
}

// VerifyCert walks the chain in the currently installed TSL/BNetzA-VL and
// decides whether cert is trusted, subject to the given temporal check.
// Chain trust itself is never made to depend on OCSP responder
// availability: a stapled revocation check against an unreachable
// responder would otherwise turn every signature verification into a
// network call, and an outage would silently fail every Task activation.
// Instead, a cert whose cached staple is missing or past ocspMaxAge
// triggers a best-effort background refresh so OCSPList converges towards
// covering every end-entity certificate actually looked up, exactly as an
// on-demand (rather than gating) check.
func (s *Store) VerifyCert(cert *x509.Certificate, check TimeCheck, now time.Time) (CAItem, error) {
	doCheck, at := check.resolve(now)
	if doCheck {
		if at.Before(cert.NotBefore) || at.After(cert.NotAfter) {
			return CAItem{}, fmt.Errorf("pki: certificate not valid at %s (window %s..%s)", at, cert.NotBefore, cert.NotAfter)
		}
	}

	tsl, tslErr := s.Tsl()
	bnetza, bnetzaErr := s.Bnetza()
	if tslErr != nil && bnetzaErr != nil {
		return CAItem{}, ErrNoSnapshot
	}

	opts := x509.VerifyOptions{}
	if doCheck {
		opts.CurrentTime = at
	}
	var item CAItem
	var chained bool
	if tsl != nil {
		opts.Roots = tsl.Pool
		if _, err := cert.Verify(opts); err == nil {
			item = s.lookupCAItem(tsl, cert)
			chained = true
		}
	}
	if !chained && bnetza != nil {
		opts.Roots = bnetza.Pool
		if _, err := cert.Verify(opts); err == nil {
			item = s.lookupCAItem(bnetza, cert)
			chained = true
		}
	}
	if !chained {
		return CAItem{}, fmt.Errorf("pki: certificate does not chain to any trusted CA")
	}

	s.noteOcspLookup(cert, now)
	return item, nil
}

// noteOcspLookup records that cert was just looked up and, if its cached
// staple is missing or past ocspMaxAge, kicks a background refresh so a
// later lookup (or the next OCSPList poll) sees an up-to-date staple. It
// never blocks or fails the caller: a slow or unreachable responder is
// logged, not propagated.
func (s *Store) noteOcspLookup(cert *x509.Certificate, now time.Time) {
	fp := Fingerprint(cert)
	if resp, ok := s.OcspFor(fp); ok && resp.IsFresh(now, s.ocspMaxAge) {
		return
	}
	issuer, urls, ok := s.ocspIssuerFor(cert)
	if !ok {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.RefreshOcspFor(ctx, cert, issuer, urls); err != nil {
			s.log.Warn("on-demand OCSP refresh failed", logger.String("fingerprint", fp), logger.Error(err))
		}
	}()
}

// ocspIssuerFor looks up cert's issuing CA in the current TSL/BNetzA-VL
// snapshot, returning its certificate and OCSP responder URLs.
func (s *Store) ocspIssuerFor(cert *x509.Certificate) (*x509.Certificate, []string, bool) {
	dn := normaliseDN(cert.Issuer.Names)
	if tsl, err := s.Tsl(); err == nil {
		if item, ok := tsl.ByDN[dn]; ok {
			return item.Certificate, item.ServiceSupplyURLs, true
		}
	}
	if bnetza, err := s.Bnetza(); err == nil {
		if item, ok := bnetza.ByDN[dn]; ok {
			return item.Certificate, item.ServiceSupplyURLs, true
		}
	}
	return nil, nil, false
}

func (s *Store) lookupCAItem(snap *Snapshot, cert *x509.Certificate) CAItem {
	dn := normaliseDN(cert.Issuer.Names)
	if item, ok := snap.ByDN[dn]; ok {
		return item
	}
	return CAItem{DistinguishedName: dn, Certificate: cert}
}

// Run launches the background refresh loops (TSL, BNetzA-VL, PUK_TOKEN,
// and the server's own enc_cert OCSP staple) and blocks until ctx is
// cancelled or one loop returns a non-recoverable error. A
// chain-verification failure elsewhere is never surfaced here; only a
// supervised loop's own fetch errors are retried with backoff, never
// fatal to the group.
func (s *Store) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.refreshLoop(gctx, "tsl", s.refreshTsl) })
	g.Go(func() error { return s.refreshLoop(gctx, "bnetza", s.refreshBnetza) })
	g.Go(func() error { return s.refreshLoop(gctx, "puk_token", s.refreshPuk) })
	g.Go(func() error { return s.refreshLoop(gctx, "enc_cert_ocsp", s.refreshEncCertOcsp) })
	return g.Wait()
}

// refreshEncCertOcsp fetches and caches a fresh OCSP staple for the
// server's own encryption certificate, the sibling task the background
// loop is responsible for alongside TSL/BNetzA-VL/PUK_TOKEN. Until the
// issuing CA shows up in a TSL/BNetzA-VL snapshot it returns an error like
// any other fetch failure, so refreshLoop's backoff retries it quickly
// rather than waiting a full refresh interval after startup.
func (s *Store) refreshEncCertOcsp(ctx context.Context) error {
	if s.encCert == nil {
		return nil
	}
	issuer, urls, ok := s.ocspIssuerFor(s.encCert)
	if !ok {
		return fmt.Errorf("pki: issuing CA for enc_cert not yet present in trust material")
	}
	return s.RefreshOcspFor(ctx, s.encCert, issuer, urls)
}

// Prime performs one synchronous fetch of every trust artefact, so a
// caller can block server startup until trust material is available
// rather than serving requests against an empty Store until the first
// background refresh completes.
func (s *Store) Prime(ctx context.Context) error {
	if err := s.RefreshTSLOnce(ctx); err != nil {
		return fmt.Errorf("pki: prime TSL: %w", err)
	}
	if err := s.RefreshBnetzaOnce(ctx); err != nil {
		return fmt.Errorf("pki: prime BNetzA-VL: %w", err)
	}
	if err := s.RefreshPukTokenOnce(ctx); err != nil {
		return fmt.Errorf("pki: prime PUK_TOKEN: %w", err)
	}
	return nil
}

// RefreshTSLOnce fetches and installs the TSL a single time, outside the
// periodic Run loop.
func (s *Store) RefreshTSLOnce(ctx context.Context) error { return s.refreshTsl(ctx) }

// RefreshBnetzaOnce fetches and installs the BNetzA-VL a single time.
func (s *Store) RefreshBnetzaOnce(ctx context.Context) error { return s.refreshBnetza(ctx) }

// RefreshPukTokenOnce fetches and installs the IDP's PUK_TOKEN a single
// time.
func (s *Store) RefreshPukTokenOnce(ctx context.Context) error { return s.refreshPuk(ctx) }

func (s *Store) refreshLoop(ctx context.Context, name string, fetch func(context.Context) error) error {
	backoff := time.Second
	for {
		var err error
		if s.sched != nil {
			err = s.sched.RunLowPrio(ctx, func() error { return fetch(ctx) })
		} else {
			err = fetch(ctx)
		}
		wait := s.refresh
		if err != nil {
			s.log.Error("trust material refresh failed", logger.String("artefact", name), logger.Error(err))
			wait = backoff
			backoff *= 2
			if backoff > s.backoffCap {
				backoff = s.backoffCap
			}
		} else {
			backoff = time.Second
		}

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Store) refreshTsl(ctx context.Context) error {
	body, sha2, err := fetchXML(ctx, s.client, s.tslURL)
	if err != nil {
		return err
	}
	if !Sha2Matches(body, sha2) {
		return fmt.Errorf("pki: TSL digest mismatch")
	}
	snap, err := parseTSL(body, sha2, time.Now())
	if err != nil {
		return err
	}
	s.tsl.Store(snap)
	return nil
}

func (s *Store) refreshBnetza(ctx context.Context) error {
	body, sha2, err := fetchXML(ctx, s.client, s.bnetzaURL)
	if err != nil {
		return err
	}
	if !Sha2Matches(body, sha2) {
		return fmt.Errorf("pki: BNetzA-VL digest mismatch")
	}
	snap, err := parseTSL(body, sha2, time.Now())
	if err != nil {
		return err
	}
	s.bnetza.Store(snap)
	return nil
}

func (s *Store) refreshPuk(ctx context.Context) error {
	body, err := fetchOne(ctx, s.client, s.pukURL)
	if err != nil {
		return err
	}
	tok, err := parsePukToken(body)
	if err != nil {
		return err
	}
	s.puk.Store(tok)
	return nil
}
