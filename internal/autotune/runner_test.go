package autotune

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/nightsync/internal/domain"
)

func testProfile() domain.ProfileStore {
	return domain.ProfileStore{
		DIA: 5,
		Basal: domain.Schedule{
			{Time: 0, Value: 1.0},
		},
		CarbRatio: domain.Schedule{
			{Time: 0, Value: 10},
			{Time: 12 * 3600, Value: 12},
		},
		Sensitivity: domain.Schedule{
			{Time: 0, Value: 50},
		},
		TargetLow: domain.Schedule{
			{Time: 0, Value: 80},
		},
		TargetHigh: domain.Schedule{
			{Time: 0, Value: 160},
		},
		Timezone: "UTC",
		Units:    "mg/dl",
	}
}

func testDataset() *domain.HistoricalDataset {
	return &domain.HistoricalDataset{
		Entries: []domain.GlucoseEntry{
			{SGV: 120, Date: 1700000000000, DateString: "2023-11-14T22:13:20Z", Type: "sgv"},
		},
		Treatments: []domain.TreatmentEntry{
			{EventType: "Meal Bolus", CreatedAt: "2023-11-14T22:00:00Z"},
		},
	}
}

// writeScript installs a fake tuning executable at dir/oref0-autotune.
// The executable receives --dir <dir> --ns-entries <f> --ns-treatments <f>
// --profile <f> --days <n>, so $2 is the workspace directory.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "oref0-autotune")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func newTestRunner(t *testing.T, script string, timeout time.Duration) (*ExecRunner, string) {
	t.Helper()
	workspaceRoot := t.TempDir()
	runner := NewExecRunner(Config{
		ExecutablePath: script,
		Timeout:        timeout,
		WorkspaceRoot:  workspaceRoot,
	}, zerolog.Nop())
	return runner, workspaceRoot
}

func assertWorkspaceEmpty(t *testing.T, root string) {
	t.Helper()
	remaining, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, remaining, "workspace should be removed after the run")
}

func TestExecRunnerSuccess(t *testing.T) {
	script := writeScript(t, `
[ -f "$4" ] || exit 3
[ -f "$6" ] || exit 3
[ -f "$8" ] || exit 3
[ "${10}" = "7" ] || exit 4
cat > "$2/autotune/autotune_recommendations.json" <<'EOF'
{
  "basalprofile": [
    {"start": "00:00:00", "minutes": 0, "rate": 0.95},
    {"start": "06:00:30", "minutes": 360, "rate": 1.2}
  ],
  "carb_ratio": 9.5,
  "sens": 48,
  "dia": 6
}
EOF
`)
	runner, root := newTestRunner(t, script, 10*time.Second)

	rec, err := runner.Run(context.Background(), testProfile(), testDataset(), 7)
	require.NoError(t, err)

	require.Len(t, rec.Basal, 2)
	assert.Equal(t, 0.95, rec.Basal[0].Value)
	// seconds are preserved here; minute alignment happens at merge time
	assert.Equal(t, domain.TimeOfDay(6*3600+30), rec.Basal[1].Time)
	assert.Equal(t, 1.2, rec.Basal[1].Value)

	// the scalar carb ratio is expanded over the profile's existing slots
	require.Len(t, rec.CarbRatio, 2)
	assert.Equal(t, domain.TimeOfDay(0), rec.CarbRatio[0].Time)
	assert.Equal(t, domain.TimeOfDay(12*3600), rec.CarbRatio[1].Time)
	assert.Equal(t, 9.5, rec.CarbRatio[0].Value)
	assert.Equal(t, 9.5, rec.CarbRatio[1].Value)

	require.Len(t, rec.Sensitivity, 1)
	assert.Equal(t, 48.0, rec.Sensitivity[0].Value)

	assert.Equal(t, 6.0, rec.DIA)
	assert.Equal(t, 7, rec.WindowDays)
	assert.Equal(t, "oref0-autotune", rec.AlgorithmVersion)
	assert.False(t, rec.AnalyzedAt.IsZero())

	assertWorkspaceEmpty(t, root)
}

func TestExecRunnerNonzeroExit(t *testing.T) {
	script := writeScript(t, `echo "insufficient glucose data" >&2; exit 2`)
	runner, root := newTestRunner(t, script, 10*time.Second)

	_, err := runner.Run(context.Background(), testProfile(), testDataset(), 7)
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.ErrKindTunerExecution))
	assert.Contains(t, err.Error(), "code 2")
	assert.Contains(t, err.Error(), "insufficient glucose data")

	assertWorkspaceEmpty(t, root)
}

func TestExecRunnerTimeout(t *testing.T) {
	// The background child inherits the stdout/stderr pipes; killing the
	// process group must take it down too or Run blocks until it exits.
	script := writeScript(t, "sleep 30 &\nsleep 30")
	runner, root := newTestRunner(t, script, 100*time.Millisecond)

	start := time.Now()
	_, err := runner.Run(context.Background(), testProfile(), testDataset(), 7)
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.ErrKindTunerTimeout))
	assert.Less(t, elapsed, 5*time.Second, "process group should be killed at the deadline")

	assertWorkspaceEmpty(t, root)
}

func TestExecRunnerCancelled(t *testing.T) {
	script := writeScript(t, "sleep 30 &\nsleep 30")
	runner, root := newTestRunner(t, script, 10*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := runner.Run(ctx, testProfile(), testDataset(), 7)
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.ErrKindCancelled))
	assert.Less(t, elapsed, 5*time.Second, "process group should be killed on cancellation")

	assertWorkspaceEmpty(t, root)
}

func TestExecRunnerMissingOutput(t *testing.T) {
	script := writeScript(t, `exit 0`)
	runner, root := newTestRunner(t, script, 10*time.Second)

	_, err := runner.Run(context.Background(), testProfile(), testDataset(), 7)
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.ErrKindTunerOutputMissing))

	assertWorkspaceEmpty(t, root)
}

func TestExecRunnerInvalidOutput(t *testing.T) {
	script := writeScript(t, `echo "not json" > "$2/autotune/autotune_recommendations.json"`)
	runner, root := newTestRunner(t, script, 10*time.Second)

	_, err := runner.Run(context.Background(), testProfile(), testDataset(), 7)
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.ErrKindTunerOutputInvalid))

	assertWorkspaceEmpty(t, root)
}

func TestParseRecommendationValidation(t *testing.T) {
	profile := testProfile()

	tests := []struct {
		name    string
		content string
	}{
		{"empty document", `{}`},
		{"carb ratio below bounds", `{"carb_ratio": 0.5}`},
		{"sensitivity below bounds", `{"sens": 2}`},
		{"negative basal rate", `{"basalprofile": [{"start": "00:00:00", "rate": -1}]}`},
		{"basal not starting at midnight", `{"basalprofile": [{"start": "06:00:00", "rate": 1}]}`},
		{"basal start unparseable", `{"basalprofile": [{"start": "noon", "rate": 1}]}`},
		{"dia out of range", `{"dia": 30}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseRecommendation([]byte(tt.content), profile, 7)
			require.Error(t, err)
			assert.True(t, domain.IsKind(err, domain.ErrKindTunerOutputInvalid), "got: %v", err)
		})
	}
}

func TestParseRecommendationBasalOnly(t *testing.T) {
	content := `{"basalprofile": [{"start": "00:00:00", "rate": 0.8}]}`
	rec, err := parseRecommendation([]byte(content), testProfile(), 3)
	require.NoError(t, err)
	require.Len(t, rec.Basal, 1)
	assert.Empty(t, rec.CarbRatio)
	assert.Empty(t, rec.Sensitivity)
	assert.Zero(t, rec.DIA)
	assert.Equal(t, 3, rec.WindowDays)
}
