package export

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pithecene-io/prospect/iox"
	"github.com/pithecene-io/prospect/types"
)

// WriteChanges persists a change report under
// data/{retailer}/history/changes_YYYY-MM-DD.json. A second run on the
// same day overwrites the earlier report; the day's final state is what
// matters.
func WriteChanges(retailerDir string, report *types.ChangeReport, day time.Time) (string, error) {
	path := filepath.Join(retailerDir, "history",
		fmt.Sprintf("changes_%s.json", day.UTC().Format("2006-01-02")))

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode change report: %w", err)
	}
	if err := iox.WriteFileAtomic(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// LoadChanges reads one day's change report.
func LoadChanges(retailerDir string, day time.Time) (*types.ChangeReport, error) {
	path := filepath.Join(retailerDir, "history",
		fmt.Sprintf("changes_%s.json", day.UTC().Format("2006-01-02")))
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var report types.ChangeReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("corrupt change report %s: %w", path, err)
	}
	return &report, nil
}
