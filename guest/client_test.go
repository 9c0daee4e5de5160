package guest_test

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sentinel-dev/sentinel/application/session"
	"github.com/sentinel-dev/sentinel/domain/entities"
	"github.com/sentinel-dev/sentinel/domain/policy"
	"github.com/sentinel-dev/sentinel/guest"
	"github.com/sentinel-dev/sentinel/hostfuncs"
	"github.com/sentinel-dev/sentinel/internal/testutil"
	sentinellog "github.com/sentinel-dev/sentinel/log"
	"github.com/sentinel-dev/sentinel/wireformat"
	"github.com/stretchr/testify/suite"
)

type ClientTestSuite struct {
	suite.Suite
	ctx     context.Context
	dir     string
	logs    *sentinellog.Broadcaster
	session *session.Session
	client  *guest.Client
}

func (s *ClientTestSuite) SetupTest() {
	s.ctx = context.Background()
	dir, err := filepath.EvalSymlinks(s.T().TempDir())
	s.Require().NoError(err)
	s.dir = dir
	s.Require().NoError(os.MkdirAll(filepath.Join(dir, "out"), 0o755))
	s.Require().NoError(os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hello"), 0o600))

	doc := &entities.PolicyConfig{}
	doc.Filesystem.Read = entities.PatternRules{Allow: []string{dir + "/**"}}
	doc.Filesystem.Write = entities.PatternRules{Allow: []string{dir + "/out/**"}}
	doc.HITL.Threshold = entities.ThresholdHigh
	doc.HITL.ApprovalTimeout = entities.Duration(time.Minute)
	doc.ApplyDefaults()

	p, err := policy.NewPolicy(doc,
		policy.WithWorkingDirectory(dir),
		policy.WithSymlinkResolution(false),
		policy.WithDenialHandler(&policy.NopDenialHandler{}),
	)
	s.Require().NoError(err)
	s.session = session.New(p, testutil.NewSigner(3),
		session.WithEventSink(&testutil.RecordingSink{}),
		session.WithJanitorInterval(0),
	)

	s.logs = sentinellog.NewBroadcaster()
	tools := hostfuncs.NewToolset(s.session, hostfuncs.WithLogSink(s.logs))
	registry, err := hostfuncs.NewRegistry(tools.Register())
	s.Require().NoError(err)

	s.client = guest.New(guest.WithTransport(func(ctx context.Context, tool string, request []byte) ([]byte, error) {
		return registry.Invoke(ctx, tool, request)
	}))
}

func (s *ClientTestSuite) TearDownTest() {
	s.session.Close(s.ctx)
}

func (s *ClientTestSuite) TestFilesystemRoundTrip() {
	content, err := s.client.ReadFile(s.ctx, filepath.Join(s.dir, "notes.txt"), "")
	s.Require().NoError(err)
	s.Equal("hello", content)

	out := filepath.Join(s.dir, "out", "result.txt")
	n, err := s.client.WriteFile(s.ctx, out, "one", "")
	s.Require().NoError(err)
	s.Equal(3, n)
	_, err = s.client.AppendFile(s.ctx, out, "two", "")
	s.Require().NoError(err)

	data, err := os.ReadFile(out)
	s.Require().NoError(err)
	s.Equal("onetwo", string(data))

	entries, err := s.client.ListDir(s.ctx, s.dir, "")
	s.Require().NoError(err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name)
	}
	s.ElementsMatch([]string{"notes.txt", "out"}, names)
}

func (s *ClientTestSuite) TestCapabilityToken() {
	path := filepath.Join(s.dir, "notes.txt")
	token, err := s.client.RequestCapability(s.ctx, entities.KindFileRead, path)
	s.Require().NoError(err)
	s.NotEmpty(token)

	content, err := s.client.ReadFile(s.ctx, path, token)
	s.Require().NoError(err)
	s.Equal("hello", content)

	s.Require().NoError(s.client.ReleaseCapability(s.ctx, token))
	_, err = s.client.ReadFile(s.ctx, path, token)
	s.Require().Error(err)
	s.ErrorIs(err, guest.ErrCapability)
}

func (s *ClientTestSuite) TestDenialsAreTypedErrors() {
	_, err := s.client.WriteFile(s.ctx, filepath.Join(s.dir, "notes.txt"), "x", "")
	s.Require().Error(err)
	s.ErrorIs(err, guest.ErrPolicyViolation)

	var gerr *guest.Error
	s.Require().ErrorAs(err, &gerr)
	s.Equal(403, gerr.Code)
	s.Equal("fs_write", gerr.Tool)

	_, err = s.client.Exec(s.ctx, wireformat.ExecRequest{Command: "rm", Args: []string{"-rf", s.dir}})
	s.ErrorIs(err, guest.ErrPolicyViolation)
	s.NotErrorIs(err, guest.ErrCapability)

	_, err = s.client.ReadFile(s.ctx, "", "")
	s.Error(err)
}

func (s *ClientTestSuite) TestLowRiskManifestIsApprovedAtOnce() {
	id, err := s.client.SubmitManifest(s.ctx, "tidy output directory", entities.RiskLevelLow, map[string]any{"dir": "out"})
	s.Require().NoError(err)
	s.NotEmpty(id)

	status, err := s.client.CheckApproval(s.ctx, id)
	s.Require().NoError(err)
	s.Equal(entities.ManifestApproved, status.State)
	s.Equal(entities.SourceAuto, status.Source)
	s.True(status.Signed)

	s.Require().NoError(s.client.AwaitApproval(s.ctx, id))

	status, err = s.client.CheckApproval(s.ctx, id)
	s.Require().NoError(err)
	s.Equal(entities.ManifestConsumed, status.State)

	// Consumed manifests cannot authorize a second time.
	s.Error(s.client.AwaitApproval(s.ctx, id))
}

func (s *ClientTestSuite) TestUnknownManifest() {
	err := s.client.AwaitApproval(s.ctx, "missing")
	s.Require().Error(err)
	s.ErrorIs(err, guest.ErrManifest)
	s.ErrorIs(err, &guest.Error{Kind: "MANIFEST_ERROR", Reason: "not_found"})
	s.NotErrorIs(err, &guest.Error{Kind: "MANIFEST_ERROR", Reason: "expired"})

	_, err = s.client.SubmitManifest(s.ctx, " ", entities.RiskLevelLow, nil)
	s.ErrorIs(err, guest.ErrValidation)
}

func (s *ClientTestSuite) TestLogHandlerStreamsRecords() {
	ch, cancel := s.logs.Subscribe(8)
	defer cancel()

	logger := slog.New(guest.NewLogHandler(s.client, guest.WithLevel(slog.LevelDebug)))
	logger.With("target", "guest::scan").WithGroup("file").Info("scanned", "name", "notes.txt", "bytes", 5)
	logger.Debug("detail")

	first := <-ch
	s.Equal("scanned", first.Message)
	s.Equal("guest::scan", first.Target)
	s.Equal("INFO", first.Level)
	keys := map[string]string{}
	for _, a := range first.Attrs {
		keys[a.Key] = a.Value
	}
	s.Equal("notes.txt", keys["file.name"])
	s.Equal("5", keys["file.bytes"])

	second := <-ch
	s.Equal("detail", second.Message)
	s.Equal("sentinel::guest", second.Target)
	s.Equal("DEBUG", second.Level)
}

func (s *ClientTestSuite) TestLogHandlerFiltersLevel() {
	h := guest.NewLogHandler(s.client)
	s.False(h.Enabled(s.ctx, slog.LevelDebug))
	s.True(h.Enabled(s.ctx, slog.LevelWarn))
}

func TestClientTestSuite(t *testing.T) {
	suite.Run(t, new(ClientTestSuite))
}
