package daemon

import (
	"encoding/json"
	"log"
	"os"
	"time"
)

// Stats holds cumulative drain statistics, persisted as JSON so they
// survive daemon restarts.
type Stats struct {
	Drains      int       `json:"drains"`
	TotalSynced int       `json:"total_synced"`
	TotalFailed int       `json:"total_failed"`
	LastDrainAt time.Time `json:"last_drain_at"`
}

// LoadStats reads persisted statistics, returning zero stats when the file
// is missing or unreadable. Stats are informational; a corrupt file must
// never keep the daemon from starting.
func LoadStats(path string, logger *log.Logger) *Stats {
	stats := &Stats{}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) && logger != nil {
			logger.Printf("Warning: failed to read stats file: %v", err)
		}
		return stats
	}

	if err := json.Unmarshal(data, stats); err != nil {
		if logger != nil {
			logger.Printf("Warning: failed to parse stats file: %v", err)
		}
		return &Stats{}
	}

	return stats
}

// Save writes the statistics to path.
func (s *Stats) Save(path string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
