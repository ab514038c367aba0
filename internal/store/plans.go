package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	apperrors "bracket-trader/internal/errors"
	"bracket-trader/internal/models"
)

// PlanDefaults fill plan fields the author left empty.
type PlanDefaults struct {
	RiskFraction           float64
	ProfitToLossRatio      float64
	AvailableQuantityRatio float64
}

// planFile is the on-disk layout.
type planFile struct {
	Version   int                `json:"version"`
	UpdatedAt time.Time          `json:"updated_at"`
	Plans     []models.PlanEntry `json:"plans"`
	// Rejected holds records that failed validation, kept verbatim so a
	// save never drops them from the audit trail.
	Rejected []json.RawMessage `json:"rejected,omitempty"`
}

// Rejection describes a plan record refused at load time.
type Rejection struct {
	Symbol string
	Err    error
}

// PlanStore is the durable collection of plan entries, keyed by symbol.
// The in-memory copy is the source of truth; every mutation is followed by
// an atomic write (temp file, fsync, rename) that keeps the prior file as
// a .bak copy.
type PlanStore struct {
	path     string
	defaults PlanDefaults
	logger   zerolog.Logger
	now      func() time.Time

	mu       sync.RWMutex
	plans    []models.PlanEntry
	index    map[string]int
	rejected []json.RawMessage
	dirty    bool
}

// NewPlanStore creates a store backed by path. Call Load before use.
func NewPlanStore(path string, defaults PlanDefaults, logger zerolog.Logger) *PlanStore {
	return &PlanStore{
		path:     path,
		defaults: defaults,
		logger:   logger.With().Str("component", "plan_store").Str("path", path).Logger(),
		now:      time.Now,
		index:    make(map[string]int),
	}
}

// Path returns the plan file path.
func (s *PlanStore) Path() string { return s.path }

func (s *PlanStore) backupPath() string { return s.path + ".bak" }
func (s *PlanStore) tmpPath() string    { return s.path + ".tmp" }

// Load reads the plan file, falling back to the .bak copy when the primary
// is missing or unreadable. A missing file with no backup yields an empty
// store. Only a primary and backup that are both corrupt are fatal
// (ErrPlanStoreCorrupt). Invalid records are returned as rejections and
// never enter the active set.
func (s *PlanStore) Load() ([]Rejection, error) {
	file, err := s.readFile(s.path)
	if err != nil {
		primaryErr := err
		file, err = s.readFile(s.backupPath())
		switch {
		case err == nil:
			s.logger.Warn().Err(primaryErr).Msg("Plan file unreadable, loaded backup copy")
		case errors.Is(primaryErr, fs.ErrNotExist) && errors.Is(err, fs.ErrNotExist):
			file = &planFile{}
		default:
			return nil, fmt.Errorf("%w: %s: %v (backup: %v)", apperrors.ErrPlanStoreCorrupt, s.path, primaryErr, err)
		}
	}

	plans, rejected, rejections := s.normalize(file)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.plans = plans
	s.rejected = rejected
	s.reindex()
	s.dirty = false

	for _, r := range rejections {
		s.logger.Error().Err(r.Err).Str("symbol", r.Symbol).Msg("Plan rejected at load")
	}
	s.logger.Info().Int("plans", len(plans)).Int("rejected", len(rejections)).Msg("Plans loaded")
	return rejections, nil
}

func (s *PlanStore) readFile(path string) (*planFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var file planFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", filepath.Base(path), err)
	}
	return &file, nil
}

// normalize applies defaults, validates, and splits out rejected records.
func (s *PlanStore) normalize(file *planFile) ([]models.PlanEntry, []json.RawMessage, []Rejection) {
	var (
		plans      []models.PlanEntry
		rejected   = append([]json.RawMessage(nil), file.Rejected...)
		rejections []Rejection
		seen       = make(map[string]bool)
	)

	for _, p := range file.Plans {
		p = s.ApplyDefaults(p)
		err := p.Validate()
		if err == nil && seen[p.Symbol] {
			err = apperrors.NewValidationError("symbol", p.Symbol, "duplicate plan for symbol")
		}
		if err != nil {
			raw, _ := json.Marshal(p)
			rejected = append(rejected, raw)
			rejections = append(rejections, Rejection{Symbol: p.Symbol, Err: err})
			continue
		}
		seen[p.Symbol] = true
		plans = append(plans, p)
	}
	return plans, rejected, rejections
}

// ApplyDefaults fills empty plan fields from the configured defaults and
// normalises symbol, side and status spelling.
func (s *PlanStore) ApplyDefaults(p models.PlanEntry) models.PlanEntry {
	p.Symbol = strings.ToUpper(strings.TrimSpace(p.Symbol))
	if side, err := models.ParseSide(string(p.Side)); err == nil {
		p.Side = side
	}
	if m, err := models.ParseEntryMethod(string(p.EntryMethod)); err == nil {
		p.EntryMethod = m
	}
	if p.Status == "" {
		p.Status = models.PlanActive
	}
	p.Status = models.PlanStatus(strings.ToLower(string(p.Status)))
	if p.RiskFraction == 0 {
		p.RiskFraction = s.defaults.RiskFraction
	}
	if p.ProfitToLossRatio == 0 {
		p.ProfitToLossRatio = s.defaults.ProfitToLossRatio
	}
	if p.AvailableQuantityRatio == 0 {
		p.AvailableQuantityRatio = s.defaults.AvailableQuantityRatio
	}
	return p
}

// reindex must be called with s.mu held.
func (s *PlanStore) reindex() {
	s.index = make(map[string]int, len(s.plans))
	for i, p := range s.plans {
		s.index[p.Symbol] = i
	}
}

// Plans returns a copy of every loaded plan.
func (s *PlanStore) Plans() []models.PlanEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.PlanEntry, len(s.plans))
	copy(out, s.plans)
	return out
}

// Active returns plans in the active state, in file order.
func (s *PlanStore) Active() []models.PlanEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.PlanEntry
	for _, p := range s.plans {
		if p.Status == models.PlanActive {
			out = append(out, p)
		}
	}
	return out
}

// Get returns the plan for symbol.
func (s *PlanStore) Get(symbol string) (models.PlanEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.index[strings.ToUpper(symbol)]
	if !ok {
		return models.PlanEntry{}, false
	}
	return s.plans[i], true
}

// Add validates and appends a new plan, then persists.
func (s *PlanStore) Add(p models.PlanEntry) error {
	p = s.ApplyDefaults(p)
	if err := p.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.index[p.Symbol]; exists {
		return apperrors.NewValidationError("symbol", p.Symbol, "duplicate plan for symbol")
	}
	s.plans = append(s.plans, p)
	s.index[p.Symbol] = len(s.plans) - 1
	return s.saveLocked()
}

// update mutates one plan in memory and persists. The in-memory change is
// kept even if the write fails.
func (s *PlanStore) update(symbol string, fn func(*models.PlanEntry) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.index[strings.ToUpper(symbol)]
	if !ok {
		return fmt.Errorf("%w: %s", apperrors.ErrPlanNotFound, symbol)
	}
	if err := fn(&s.plans[i]); err != nil {
		return err
	}
	return s.saveLocked()
}

// MarkExecuted records a confirmed fill.
func (s *PlanStore) MarkExecuted(symbol string, info models.ExecutionInfo) error {
	info.ExecutedAt = info.ExecutedAt.UTC()
	return s.update(symbol, func(p *models.PlanEntry) error {
		p.Status = models.PlanExecuted
		p.Execution = &info
		return nil
	})
}

// MarkActive returns a plan to the active set after a failed attempt.
func (s *PlanStore) MarkActive(symbol string) error {
	return s.update(symbol, func(p *models.PlanEntry) error {
		p.Status = models.PlanActive
		p.Execution = nil
		return nil
	})
}

// MarkInPosition flags a plan whose position needs manual reconciliation,
// such as a partial fill on a failed bracket. It leaves the active set.
func (s *PlanStore) MarkInPosition(symbol string, info *models.ExecutionInfo) error {
	return s.update(symbol, func(p *models.PlanEntry) error {
		p.Status = models.PlanInPosition
		if info != nil {
			i := *info
			i.ExecutedAt = i.ExecutedAt.UTC()
			p.Execution = &i
		}
		return nil
	})
}

// MarkExpired retires a plan without executing it.
func (s *PlanStore) MarkExpired(symbol string) error {
	return s.update(symbol, func(p *models.PlanEntry) error {
		p.Status = models.PlanExpired
		return nil
	})
}

// Reset makes an executed or expired plan active again, clearing its
// execution record. Used by the operator to re-arm a plan.
func (s *PlanStore) Reset(symbol string) error {
	return s.update(symbol, func(p *models.PlanEntry) error {
		switch p.Status {
		case models.PlanExecuted, models.PlanExpired, models.PlanInactive, models.PlanInPosition:
		default:
			return fmt.Errorf("plan %s is %s, nothing to reset", p.Symbol, p.Status)
		}
		p.Status = models.PlanActive
		p.Execution = nil
		if p.ExpiryDate != nil && p.IsExpired(s.now()) {
			p.ExpiryDate = nil
		}
		return nil
	})
}

// SuspendOthers moves every other active plan to inactive. Used when only
// one position may be open at a time.
func (s *PlanStore) SuspendOthers(symbol string) ([]string, error) {
	return s.bulk(func(p *models.PlanEntry) bool {
		if p.Symbol != strings.ToUpper(symbol) && p.Status == models.PlanActive {
			p.Status = models.PlanInactive
			return true
		}
		return false
	})
}

// ReactivateInactive moves every inactive plan back to active.
func (s *PlanStore) ReactivateInactive() ([]string, error) {
	return s.bulk(func(p *models.PlanEntry) bool {
		if p.Status == models.PlanInactive {
			p.Status = models.PlanActive
			return true
		}
		return false
	})
}

// ExpireDue marks active plans whose expiry date has passed as expired.
func (s *PlanStore) ExpireDue(now time.Time) ([]string, error) {
	return s.bulk(func(p *models.PlanEntry) bool {
		if p.Status == models.PlanActive && p.IsExpired(now) {
			p.Status = models.PlanExpired
			return true
		}
		return false
	})
}

func (s *PlanStore) bulk(fn func(*models.PlanEntry) bool) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var changed []string
	for i := range s.plans {
		if fn(&s.plans[i]) {
			changed = append(changed, s.plans[i].Symbol)
		}
	}
	if len(changed) == 0 {
		return nil, nil
	}
	sort.Strings(changed)
	return changed, s.saveLocked()
}

// Save persists the current in-memory state.
func (s *PlanStore) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

// Dirty reports whether the last write failed and memory is ahead of disk.
func (s *PlanStore) Dirty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dirty
}

// saveLocked must be called with s.mu held.
func (s *PlanStore) saveLocked() error {
	file := planFile{
		Version:   1,
		UpdatedAt: s.now().UTC(),
		Plans:     s.plans,
		Rejected:  s.rejected,
	}
	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		s.dirty = true
		return apperrors.NewPersistenceError(s.path, "marshal", err)
	}
	if err := s.writeAtomic(data); err != nil {
		s.dirty = true
		s.logger.Error().Err(err).Msg("Plan store write failed, keeping in-memory state")
		return err
	}
	s.dirty = false
	return nil
}

// writeAtomic writes data to a temp file, fsyncs it, backs up the current
// file to .bak and renames the temp file into place. If the rename fails
// the primary is restored from the backup.
func (s *PlanStore) writeAtomic(data []byte) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return apperrors.NewPersistenceError(dir, "mkdir", err)
	}

	tmp := s.tmpPath()
	if err := writeSynced(tmp, data); err != nil {
		_ = os.Remove(tmp)
		return apperrors.NewPersistenceError(tmp, "write", err)
	}

	hadPrimary := false
	if _, err := os.Stat(s.path); err == nil {
		hadPrimary = true
		if err := copyFile(s.path, s.backupPath()); err != nil {
			_ = os.Remove(tmp)
			return apperrors.NewPersistenceError(s.backupPath(), "backup", err)
		}
	}

	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		if hadPrimary {
			if rerr := s.restoreFromBackup(); rerr != nil {
				return apperrors.NewPersistenceError(s.path, "rename", apperrors.Join(err, rerr))
			}
		}
		return apperrors.NewPersistenceError(s.path, "rename", err)
	}

	syncDir(dir)
	return nil
}

// restoreFromBackup copies .bak over the primary if the primary is missing
// or no longer decodes.
func (s *PlanStore) restoreFromBackup() error {
	if _, err := s.readFile(s.path); err == nil {
		return nil
	}
	if err := copyFile(s.backupPath(), s.path); err != nil {
		return err
	}
	s.logger.Warn().Msg("Plan file restored from backup")
	return nil
}

func writeSynced(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// copyFile copies src to dst through a synced temp file and rename.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := dst + ".tmp"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dst)
}

func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}
