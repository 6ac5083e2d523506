package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/bft-labs/tagcam/internal/domain"
)

type fakeManifestSource struct {
	doc []byte
	err error
}

func (s *fakeManifestSource) Fetch(ctx context.Context) ([]byte, error) { return s.doc, s.err }

type fakeInstaller struct {
	installs   []string
	digests    []string
	restarts   int
	installErr error
}

func (f *fakeInstaller) Install(ctx context.Context, url, digest string) error {
	f.installs = append(f.installs, url)
	f.digests = append(f.digests, digest)
	return f.installErr
}

func (f *fakeInstaller) Restart() error {
	f.restarts++
	return nil
}

type entry struct {
	version     string
	channel     string
	criticality float64
	board       string
	long        string
}

func manifestDoc(entries ...entry) []byte {
	parts := make([]string, 0, len(entries))
	for i, e := range entries {
		board := e.board
		if board == "" {
			board = "esp32cam"
		}
		long := e.long
		if long == "" {
			long = "v" + e.version + "-" + e.channel
		}
		parts = append(parts, fmt.Sprintf(`{
			"name": "fw-%d", "build-type": %q, "board": %q,
			"firmware-url": "firmware/fw-%d.bin", "version-short": %d,
			"version": %q, "version-long": %q, "criticality": %v,
			"firmware-blake3": "d%d"
		}`, i, e.channel, board, i, i, e.version, long, e.criticality, i))
	}
	return []byte("[" + strings.Join(parts, ",") + "]")
}

func newTestResolver(channel domain.Channel) *Resolver {
	return NewResolver(OTAConfig{
		RunningBuild: "v1.2.0-stable",
		Channel:      channel,
		ServerURL:    "https://ota.example.com:8070",
	}, nil, nil, mockLogger{})
}

// Running 1.2.0 on stable; the only newer build is on beta.
func TestResolver_NewerBuildOnUnacceptedChannel(t *testing.T) {
	r := newTestResolver(domain.ChannelStable)
	doc := manifestDoc(
		entry{version: "1.1.9", channel: "stable", criticality: 5},
		entry{version: "1.3.0", channel: "beta", criticality: 5},
	)

	res, err := r.Resolve(doc)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if res.Eligible() {
		t.Fatalf("Resolve() selected %+v, want no eligible update", res.Candidate)
	}

	var channelRejected bool
	for _, rej := range res.Rejected {
		if rej.Version == "1.3.0" && errors.Is(rej.Err, domain.ErrChannelNotAccepted) {
			channelRejected = true
		}
	}
	if !channelRejected {
		t.Errorf("1.3.0 not rejected for its channel: %+v", res.Rejected)
	}
	if res.BestSeen.String() != "1.1.9" {
		t.Errorf("BestSeen = %v, want 1.1.9", res.BestSeen)
	}
}

// Running 1.2.0; 1.4.0 stable is above the criticality ceiling of 11.
func TestResolver_CriticalityCeiling(t *testing.T) {
	src := &fakeManifestSource{doc: manifestDoc(entry{version: "1.4.0", channel: "stable", criticality: 20})}
	inst := &fakeInstaller{}
	r := NewResolver(OTAConfig{
		RunningBuild:       "v1.2.0-stable",
		Channel:            domain.ChannelStable,
		CriticalityCeiling: 11,
		ServerURL:          "https://ota.example.com:8070",
	}, src, inst, mockLogger{})

	res, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Eligible() {
		t.Fatal("entry above the criticality ceiling was selected")
	}
	if len(res.Rejected) != 1 || !errors.Is(res.Rejected[0].Err, domain.ErrCriticalityTooHigh) {
		t.Errorf("Rejected = %+v, want one criticality rejection", res.Rejected)
	}
	if len(inst.installs) != 0 || inst.restarts != 0 {
		t.Errorf("installer called: installs %v, restarts %d", inst.installs, inst.restarts)
	}
}

func TestResolver_ChannelHierarchy(t *testing.T) {
	doc := manifestDoc(
		entry{version: "1.3.0", channel: "stable", criticality: 1},
		entry{version: "1.4.0", channel: "beta", criticality: 1},
		entry{version: "1.5.0", channel: "alpha", criticality: 1},
	)

	tests := []struct {
		channel domain.Channel
		want    string
	}{
		{domain.ChannelStable, "1.3.0"},
		{domain.ChannelBeta, "1.4.0"},
		{domain.ChannelAlpha, "1.5.0"},
	}
	for _, tt := range tests {
		t.Run(tt.channel.String(), func(t *testing.T) {
			res, err := newTestResolver(tt.channel).Resolve(doc)
			if err != nil {
				t.Fatal(err)
			}
			if !res.Eligible() || res.Candidate.Version.String() != tt.want {
				t.Errorf("selected %+v, want %s", res.Candidate, tt.want)
			}
		})
	}
}

func TestResolver_MaximumIndependentOfOrder(t *testing.T) {
	entries := []entry{
		{version: "1.2.5", channel: "stable", criticality: 1},
		{version: "1.10.0", channel: "stable", criticality: 1},
		{version: "1.3.0", channel: "stable", criticality: 1},
	}
	orders := [][]int{{0, 1, 2}, {2, 1, 0}, {1, 0, 2}, {2, 0, 1}}

	for _, order := range orders {
		var shuffled []entry
		for _, i := range order {
			shuffled = append(shuffled, entries[i])
		}
		res, err := newTestResolver(domain.ChannelStable).Resolve(manifestDoc(shuffled...))
		if err != nil {
			t.Fatal(err)
		}
		if !res.Eligible() || res.Candidate.Version.String() != "1.10.0" {
			t.Errorf("order %v selected %+v, want 1.10.0", order, res.Candidate)
		}
	}
}

func TestResolver_Filters(t *testing.T) {
	tests := []struct {
		name    string
		board   string
		e       entry
		wantErr error
	}{
		{"same build", "", entry{version: "1.2.0", channel: "stable", criticality: 1, long: "v1.2.0-stable"}, domain.ErrSameBuild},
		{"older", "", entry{version: "1.1.0", channel: "stable", criticality: 1}, domain.ErrNotNewer},
		{"equal version other build", "", entry{version: "1.2.0", channel: "stable", criticality: 1, long: "v1.2.0-hotfix"}, domain.ErrNotNewer},
		{"criticality at ceiling", "", entry{version: "1.3.0", channel: "stable", criticality: 11}, nil},
		{"criticality above ceiling", "", entry{version: "1.3.0", channel: "stable", criticality: 11.5}, domain.ErrCriticalityTooHigh},
		{"board mismatch", "esp32cam", entry{version: "1.3.0", channel: "stable", criticality: 1, board: "esp32s3"}, domain.ErrBoardMismatch},
		{"board ignored when unset", "", entry{version: "1.3.0", channel: "stable", criticality: 1, board: "esp32s3"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewResolver(OTAConfig{
				RunningBuild: "v1.2.0-stable",
				Channel:      domain.ChannelStable,
				Board:        tt.board,
				ServerURL:    "https://ota.example.com",
			}, nil, nil, mockLogger{})

			res, err := r.Resolve(manifestDoc(tt.e))
			if err != nil {
				t.Fatal(err)
			}
			if tt.wantErr == nil {
				if !res.Eligible() {
					t.Errorf("entry rejected: %+v", res.Rejected)
				}
				return
			}
			if res.Eligible() {
				t.Fatal("entry selected, want rejection")
			}
			if !errors.Is(res.Rejected[0].Err, tt.wantErr) {
				t.Errorf("rejection = %v, want %v", res.Rejected[0].Err, tt.wantErr)
			}
		})
	}
}

func TestResolver_MalformedEntriesSkipped(t *testing.T) {
	doc := []byte(`[
		{"name": "bad", "build-type": "stable", "board": "esp32cam", "firmware-url": "a.bin",
		 "version-short": "12", "version": "1.9.0", "version-long": "v1.9.0", "criticality": 1},
		{"name": "good", "build-type": "stable", "board": "esp32cam", "firmware-url": "b.bin",
		 "version-short": 13, "version": "1.3.0", "version-long": "v1.3.0", "criticality": 1}
	]`)

	res, err := newTestResolver(domain.ChannelStable).Resolve(doc)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if !res.Eligible() || res.Candidate.Name != "good" {
		t.Errorf("selected %+v, want good", res.Candidate)
	}
	if len(res.Rejected) != 1 || !errors.Is(res.Rejected[0].Err, domain.ErrMalformedEntry) {
		t.Errorf("Rejected = %+v", res.Rejected)
	}
}

func TestResolver_Idempotent(t *testing.T) {
	doc := manifestDoc(
		entry{version: "1.3.0", channel: "stable", criticality: 1},
		entry{version: "1.4.0", channel: "beta", criticality: 1},
	)
	r := newTestResolver(domain.ChannelStable)

	first, err := r.Resolve(doc)
	if err != nil {
		t.Fatal(err)
	}
	second, err := r.Resolve(doc)
	if err != nil {
		t.Fatal(err)
	}
	if first.FirmwareURL != second.FirmwareURL || *first.Candidate != *second.Candidate || first.BestSeen != second.BestSeen {
		t.Errorf("Resolve() not idempotent: %+v vs %+v", first, second)
	}
}

func TestResolver_FirmwareURL(t *testing.T) {
	tests := []struct {
		server string
		ref    string
		want   string
	}{
		{"https://ota.example.com:8070", "firmware/a.bin", "https://ota.example.com:8070/firmware/a.bin"},
		{"https://ota.example.com:8070/", "/firmware/a.bin", "https://ota.example.com:8070/firmware/a.bin"},
		{"https://ota.example.com/base", "a.bin", "https://ota.example.com/base/a.bin"},
		{"https://ota.example.com", "https://cdn.example.com/a.bin", "https://cdn.example.com/a.bin"},
	}
	for _, tt := range tests {
		r := NewResolver(OTAConfig{ServerURL: tt.server}, nil, nil, mockLogger{})
		got, err := r.resolveURL(tt.ref)
		if err != nil || got != tt.want {
			t.Errorf("resolveURL(%q, %q) = %q, %v; want %q", tt.server, tt.ref, got, err, tt.want)
		}
	}
}

func TestResolver_RunInstallsAndRestarts(t *testing.T) {
	src := &fakeManifestSource{doc: manifestDoc(entry{version: "1.3.0", channel: "stable", criticality: 1})}
	inst := &fakeInstaller{}
	r := NewResolver(OTAConfig{
		RunningBuild: "v1.2.0-stable",
		Channel:      domain.ChannelStable,
		ServerURL:    "https://ota.example.com:8070",
	}, src, inst, mockLogger{})

	if _, err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(inst.installs) != 1 || inst.installs[0] != "https://ota.example.com:8070/firmware/fw-0.bin" {
		t.Errorf("installs = %v", inst.installs)
	}
	if inst.digests[0] != "d0" {
		t.Errorf("digest = %q, want d0", inst.digests[0])
	}
	if inst.restarts != 1 {
		t.Errorf("restarts = %d, want 1", inst.restarts)
	}
}

func TestResolver_RunInstallFailureKeepsFirmware(t *testing.T) {
	src := &fakeManifestSource{doc: manifestDoc(entry{version: "1.3.0", channel: "stable", criticality: 1})}
	inst := &fakeInstaller{installErr: errors.New("image invalid")}
	r := NewResolver(OTAConfig{RunningBuild: "v1.2.0-stable", ServerURL: "https://ota.example.com"}, src, inst, mockLogger{})

	if _, err := r.Run(context.Background()); err == nil {
		t.Fatal("Run() error = nil, want install failure")
	}
	if inst.restarts != 0 {
		t.Error("restarted after failed install")
	}
}

func TestResolver_RunDryRun(t *testing.T) {
	src := &fakeManifestSource{doc: manifestDoc(entry{version: "1.3.0", channel: "stable", criticality: 1})}
	inst := &fakeInstaller{}
	r := NewResolver(OTAConfig{RunningBuild: "v1.2.0-stable", ServerURL: "https://ota.example.com", DryRun: true}, src, inst, mockLogger{})

	res, err := r.Run(context.Background())
	if err != nil || !res.Eligible() {
		t.Fatalf("Run() = %+v, %v", res, err)
	}
	if len(inst.installs) != 0 {
		t.Error("dry run installed firmware")
	}
}

func TestResolver_RunLogsBestSeen(t *testing.T) {
	src := &fakeManifestSource{doc: manifestDoc(entry{version: "1.1.9", channel: "stable", criticality: 1})}
	log := &recordingLogger{}
	r := NewResolver(OTAConfig{RunningBuild: "v1.2.0-stable", ServerURL: "https://ota.example.com"}, src, &fakeInstaller{}, log)

	if _, err := r.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	e, ok := log.find("no eligible update")
	if !ok {
		t.Fatal("no eligible update not logged")
	}
	if e.fields["best_seen"] != "1.1.9" || e.fields["current"] != "1.2.0" {
		t.Errorf("fields = %v", e.fields)
	}
}

func TestResolver_FetchError(t *testing.T) {
	src := &fakeManifestSource{err: errors.New("tls: bad certificate")}
	r := NewResolver(OTAConfig{RunningBuild: "v1.2.0-stable"}, src, &fakeInstaller{}, mockLogger{})
	if _, err := r.Run(context.Background()); err == nil {
		t.Error("Run() error = nil on fetch failure")
	}
}
