package app

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/bft-labs/tagcam/internal/domain"
	"github.com/bft-labs/tagcam/internal/ports"
)

// DefaultCriticalityCeiling is the highest criticality accepted by default.
const DefaultCriticalityCeiling = 11

// OTAConfig contains configuration for the manifest resolver.
type OTAConfig struct {
	// RunningBuild is the running firmware description, "v1.2.0-stable".
	RunningBuild string

	// Channel is the release channel the device is subscribed to.
	Channel domain.Channel

	// CriticalityCeiling rejects entries with a higher criticality.
	CriticalityCeiling float64

	// Board, when set, rejects entries built for another board.
	Board string

	// ServerURL is the base for relative firmware URLs.
	ServerURL string

	// DryRun resolves without installing.
	DryRun bool
}

// Rejection records why one manifest entry was not eligible.
type Rejection struct {
	Name    string
	Version string
	Err     error
}

// Resolution is the result of one resolver pass.
type Resolution struct {
	// Current is the running version.
	Current domain.Version

	// Candidate is the winning entry, nil when nothing is eligible.
	Candidate *domain.ManifestEntry

	// FirmwareURL is Candidate's firmware URL resolved against the server.
	FirmwareURL string

	// BestSeen is the highest version among entries that passed the
	// build, criticality and channel filters, newer or not.
	BestSeen domain.Version

	Rejected []Rejection
}

// Eligible reports whether an update was selected.
func (r Resolution) Eligible() bool { return r.Candidate != nil }

// Resolver selects the best eligible firmware build from the OTA manifest
// and hands it to the installer.
type Resolver struct {
	cfg       OTAConfig
	source    ports.ManifestSource
	installer ports.FirmwareInstaller
	logger    ports.Logger
}

// NewResolver creates a manifest resolver.
func NewResolver(cfg OTAConfig, source ports.ManifestSource, installer ports.FirmwareInstaller, logger ports.Logger) *Resolver {
	if cfg.CriticalityCeiling <= 0 {
		cfg.CriticalityCeiling = DefaultCriticalityCeiling
	}
	return &Resolver{
		cfg:       cfg,
		source:    source,
		installer: installer,
		logger:    logger,
	}
}

// Resolve selects the best eligible entry of a manifest document. It does
// not perform I/O, so running it twice on the same input yields the same
// resolution. Malformed entries are rejected individually; only an
// unparseable running build or a document that is not a JSON array fail the
// whole pass.
func (r *Resolver) Resolve(doc []byte) (Resolution, error) {
	current, err := domain.ParseBuildVersion(r.cfg.RunningBuild)
	if err != nil {
		return Resolution{}, fmt.Errorf("running build: %w", err)
	}

	entries, malformed, err := domain.ParseManifest(doc)
	if err != nil {
		return Resolution{}, err
	}

	res := Resolution{Current: current}
	for _, m := range malformed {
		res.Rejected = append(res.Rejected, Rejection{Name: m.Name, Err: m})
	}

	var best *domain.ManifestEntry
	for i := range entries {
		e := entries[i]
		if err := r.eligible(e, current, &res); err != nil {
			res.Rejected = append(res.Rejected, Rejection{Name: e.Name, Version: e.Version.String(), Err: err})
			continue
		}
		// Strictly newer replaces, so the first of equal versions wins.
		if best == nil || best.Version.Less(e.Version) {
			best = &entries[i]
		}
	}

	if best == nil {
		return res, nil
	}

	firmwareURL, err := r.resolveURL(best.FirmwareURL)
	if err != nil {
		return res, fmt.Errorf("firmware url %q: %w", best.FirmwareURL, err)
	}
	res.Candidate = best
	res.FirmwareURL = firmwareURL
	return res, nil
}

// eligible applies the filters in order and updates res.BestSeen for
// entries that pass every filter but the version check.
func (r *Resolver) eligible(e domain.ManifestEntry, current domain.Version, res *Resolution) error {
	if e.VersionLong != "" && e.VersionLong == r.cfg.RunningBuild {
		return domain.ErrSameBuild
	}
	if e.Criticality > r.cfg.CriticalityCeiling {
		return fmt.Errorf("%w: %v > %v", domain.ErrCriticalityTooHigh, e.Criticality, r.cfg.CriticalityCeiling)
	}
	if !r.cfg.Channel.Accepts(e.Channel) {
		return fmt.Errorf("%w: %s build on %s device", domain.ErrChannelNotAccepted, e.Channel, r.cfg.Channel)
	}
	if r.cfg.Board != "" && e.Board != r.cfg.Board {
		return fmt.Errorf("%w: %q", domain.ErrBoardMismatch, e.Board)
	}

	if res.BestSeen.Less(e.Version) {
		res.BestSeen = e.Version
	}
	if !current.Less(e.Version) {
		return fmt.Errorf("%w: %s <= %s", domain.ErrNotNewer, e.Version, current)
	}
	return nil
}

func (r *Resolver) resolveURL(ref string) (string, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	if u.IsAbs() {
		return u.String(), nil
	}
	if r.cfg.ServerURL == "" {
		return "", errors.New("relative url without server")
	}
	base, err := url.Parse(strings.TrimRight(r.cfg.ServerURL, "/") + "/")
	if err != nil {
		return "", err
	}
	return base.ResolveReference(u).String(), nil
}

// Check fetches the manifest and resolves it.
func (r *Resolver) Check(ctx context.Context) (Resolution, error) {
	doc, err := r.source.Fetch(ctx)
	if err != nil {
		return Resolution{}, fmt.Errorf("fetch manifest: %w", err)
	}
	return r.Resolve(doc)
}

// Run performs one update check. When a build is selected it is installed
// and the device restarted. An install failure leaves the running firmware
// in place and is returned. "No eligible update" is not an error.
func (r *Resolver) Run(ctx context.Context) (Resolution, error) {
	res, err := r.Check(ctx)
	if err != nil {
		r.logger.Error("ota check failed", ports.Err(err))
		return res, err
	}

	for _, rej := range res.Rejected {
		r.logger.Debug("manifest entry rejected",
			ports.String("name", rej.Name),
			ports.String("version", rej.Version),
			ports.Err(rej.Err),
		)
	}

	if !res.Eligible() {
		r.logger.Info("no eligible update",
			ports.String("current", res.Current.String()),
			ports.String("best_seen", res.BestSeen.String()),
			ports.Int("rejected", len(res.Rejected)),
		)
		return res, nil
	}

	r.logger.Info("update selected",
		ports.String("name", res.Candidate.Name),
		ports.String("current", res.Current.String()),
		ports.String("version", res.Candidate.Version.String()),
		ports.String("channel", res.Candidate.Channel.String()),
		ports.String("url", res.FirmwareURL),
	)
	if r.cfg.DryRun {
		return res, nil
	}

	if err := r.installer.Install(ctx, res.FirmwareURL, res.Candidate.Digest); err != nil {
		r.logger.Error("ota update failed, keeping running firmware",
			ports.String("url", res.FirmwareURL),
			ports.Err(err),
		)
		return res, fmt.Errorf("install %s: %w", res.FirmwareURL, err)
	}

	r.logger.Info("ota update successful, restarting")
	if err := r.installer.Restart(); err != nil {
		r.logger.Error("restart failed", ports.Err(err))
		return res, fmt.Errorf("restart: %w", err)
	}
	return res, nil
}
