package task

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseStatus(t *testing.T) {
	require.Equal(t, StatusRunning, ParseStatus("running"))
	require.Equal(t, StatusFinished, ParseStatus(" FINISHED "))
	require.Equal(t, StatusUnknown, ParseStatus("exploded"))
	require.Equal(t, StatusUnknown, ParseStatus(""))
}

func TestIsTerminal(t *testing.T) {
	for _, s := range []Status{StatusFinished, StatusFailed, StatusStopped} {
		require.True(t, s.IsTerminal(), s)
	}
	for _, s := range []Status{StatusCreated, StatusRunning, StatusPaused, StatusUnknown} {
		require.False(t, s.IsTerminal(), s)
	}
}

func TestLabels(t *testing.T) {
	require.Equal(t, "Task Created", StatusCreated.Label())
	require.Equal(t, "Completed", StatusFinished.Label())
	require.Equal(t, "Failed", StatusStopped.Label())
	require.Equal(t, "Ready", StatusUnknown.Label())
}

func TestStepDisplay(t *testing.T) {
	require.Equal(t, "", Step{URL: BlankURL}.DisplayURL())
	require.Equal(t, "https://crunchbase.com", Step{URL: "https://crunchbase.com"}.DisplayURL())

	require.Equal(t, "open crunchbase", Step{NextGoal: "open crunchbase", EvaluationPreviousGoal: "ok"}.Message())
	require.Equal(t, "ok", Step{EvaluationPreviousGoal: "ok"}.Message())
	require.Equal(t, "Processing...", Step{}.Message())
}

func TestFileTypeFromName(t *testing.T) {
	require.Equal(t, FileDocument, FileTypeFromName("report.pdf"))
	require.Equal(t, FileSpreadsheet, FileTypeFromName("funding.XLSX"))
	require.Equal(t, FileStructuredData, FileTypeFromName("team.json"))
	require.Equal(t, FileArchive, FileTypeFromName("bundle.zip"))
	require.Equal(t, FileImage, FileTypeFromName("shot.png"))
	require.Equal(t, FileDocument, FileTypeFromName("notes"))
}
