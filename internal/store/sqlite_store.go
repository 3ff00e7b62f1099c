package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"

	_ "github.com/asg017/sqlite-vec-go-bindings/ncruces"
)

const schema = `
CREATE TABLE IF NOT EXISTS units (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	type TEXT NOT NULL,
	created TEXT NOT NULL,
	modified TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_units_type ON units(type);

CREATE TABLE IF NOT EXISTS tiers (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	unittype TEXT NOT NULL,
	tier TEXT NOT NULL,
	feature TEXT NOT NULL,
	valuetype TEXT NOT NULL,
	UNIQUE(unittype, tier, feature)
);

CREATE TABLE IF NOT EXISTS features (
	unit INTEGER NOT NULL,
	feature INTEGER NOT NULL,
	value_str TEXT,
	value_int INTEGER,
	user TEXT,
	confidence REAL NOT NULL DEFAULT 1,
	date TEXT NOT NULL,
	PRIMARY KEY(unit, feature),
	FOREIGN KEY(unit) REFERENCES units(id),
	FOREIGN KEY(feature) REFERENCES tiers(id)
);
CREATE INDEX IF NOT EXISTS idx_features_feature ON features(feature);

CREATE TABLE IF NOT EXISTS suggestions (
	unit INTEGER NOT NULL,
	feature INTEGER NOT NULL,
	value_str TEXT,
	value_int INTEGER,
	probability REAL NOT NULL,
	date TEXT NOT NULL,
	active INTEGER NOT NULL DEFAULT 1,
	FOREIGN KEY(unit) REFERENCES units(id),
	FOREIGN KEY(feature) REFERENCES tiers(id)
);
CREATE INDEX IF NOT EXISTS idx_suggestions_unit_feature ON suggestions(unit, feature);

CREATE TABLE IF NOT EXISTS relations (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	parent INTEGER NOT NULL,
	child INTEGER NOT NULL,
	isprimary INTEGER NOT NULL,
	active INTEGER NOT NULL DEFAULT 1,
	date TEXT NOT NULL,
	FOREIGN KEY(parent) REFERENCES units(id),
	FOREIGN KEY(child) REFERENCES units(id)
);
CREATE INDEX IF NOT EXISTS idx_relations_parent ON relations(parent, active);
CREATE INDEX IF NOT EXISTS idx_relations_child ON relations(child, active, isprimary);
`

// featureKey caches a resolved (unittype, tier, feature) -> (id, valuetype)
// lookup for the process lifetime, mirroring the original's Unit.FeatureCache.
type featureKey struct {
	unitType string
	tier     string
	feature  string
}

type featureEntry struct {
	id        int64
	valueType ValueType
}

// Store is the transactional embedded relational layer the rest of
// reBabel talks to. One Store owns one corpus file (or ":memory:").
type Store struct {
	mu  sync.RWMutex
	db  *sql.DB
	log *slog.Logger

	featureCache map[featureKey]featureEntry

	// transaction scope state, guarded by mu.
	depth       int
	tx          *sql.Tx
	currentTime string
}

// compile-time interface assertion that Store satisfies the surface
// the staging buffer, planner, and transform engine depend on.
var _ interface {
	CreateFeature(unitType, tier, feature string, valueType ValueType) error
	CreateUnit(unitType string, user string) (int64, error)
} = (*Store)(nil)

// Open creates or opens a reBabel corpus file at path (or ":memory:")
// and ensures the schema exists.
func Open(path string, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	dsn := path
	if dsn != ":memory:" {
		dsn = "file:" + path + "?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}
	return &Store{
		db:           db,
		log:          log,
		featureCache: make(map[featureKey]featureEntry),
	}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func nowStamp() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// execer is satisfied by both *sql.DB and *sql.Tx, letting every
// helper run equally well inside or outside an explicit transaction.
type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

// conn returns the live transaction if one is open, else the bare db
// handle, so callers never need to branch on transaction state.
func (s *Store) conn() execer {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

// Transaction runs fn within a single logical transaction scope. Nested
// calls (from within fn, or from a caller already inside a Transaction)
// share the outer scope and commit exactly once, on the outermost exit,
// mirroring RBBLFile.transaction()'s save/restore of the commit flag.
func (s *Store) Transaction(fn func() error) error {
	s.mu.Lock()
	if s.depth == 0 {
		tx, err := s.db.Begin()
		if err != nil {
			s.mu.Unlock()
			return fmt.Errorf("store: begin transaction: %w", err)
		}
		s.tx = tx
		s.currentTime = nowStamp()
	}
	s.depth++
	depth := s.depth
	s.mu.Unlock()

	err := fn()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.depth--
	if depth != 1 {
		// Not the outermost scope: propagate the error, but leave
		// commit/rollback to whichever call opened the transaction.
		return err
	}
	tx := s.tx
	s.tx = nil
	s.currentTime = ""
	if err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.log.Error("rollback failed", "cause", rbErr, "original", err)
		}
		return err
	}
	if cErr := tx.Commit(); cErr != nil {
		return fmt.Errorf("store: commit transaction: %w", cErr)
	}
	return nil
}

// ensureType registers the implicit meta:active boolean feature for
// unitType if it has not already been registered, returning whether it
// was just created.
func (s *Store) ensureType(unitType string) (bool, error) {
	key := featureKey{unitType: unitType, tier: metaTier, feature: activeFeat}
	if _, ok := s.featureCache[key]; ok {
		return false, nil
	}
	var id int64
	var vt string
	err := s.conn().QueryRow(
		`SELECT id, valuetype FROM tiers WHERE unittype=? AND tier=? AND feature=?`,
		unitType, metaTier, activeFeat,
	).Scan(&id, &vt)
	if err == nil {
		s.featureCache[key] = featureEntry{id: id, valueType: ValueType(vt)}
		return false, nil
	}
	if err != sql.ErrNoRows {
		return false, fmt.Errorf("store: ensure type %s: %w", unitType, err)
	}
	res, err := s.conn().Exec(
		`INSERT INTO tiers(unittype, tier, feature, valuetype) VALUES (?,?,?,?)`,
		unitType, metaTier, activeFeat, string(ValueBool),
	)
	if err != nil {
		return false, fmt.Errorf("store: create implicit active feature for %s: %w", unitType, err)
	}
	id, err = res.LastInsertId()
	if err != nil {
		return false, fmt.Errorf("store: ensure type %s: %w", unitType, err)
	}
	s.featureCache[key] = featureEntry{id: id, valueType: ValueBool}
	return true, nil
}

// CreateFeature registers (unitType, tier, feature) with valueType,
// ensuring the unit type exists first. Re-registering the same triple
// with the same valueType is a no-op (Open Question 2); registering it
// with a different valueType is a SchemaError.
func (s *Store) CreateFeature(unitType, tier, feature string, valueType ValueType) error {
	if !valueType.Valid() {
		return NewSchemaError(fmt.Sprintf("feature %s:%s: invalid value type %q", tier, feature, valueType))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.ensureType(unitType); err != nil {
		return err
	}
	key := featureKey{unitType: unitType, tier: tier, feature: feature}
	if existing, ok := s.featureCache[key]; ok {
		if existing.valueType != valueType {
			return NewSchemaError(fmt.Sprintf("feature %s:%s already registered for %s as %s", tier, feature, unitType, existing.valueType))
		}
		return nil
	}
	var id int64
	var vt string
	err := s.conn().QueryRow(
		`SELECT id, valuetype FROM tiers WHERE unittype=? AND tier=? AND feature=?`,
		unitType, tier, feature,
	).Scan(&id, &vt)
	switch {
	case err == nil:
		if ValueType(vt) != valueType {
			return NewSchemaError(fmt.Sprintf("feature %s:%s already registered for %s as %s", tier, feature, unitType, vt))
		}
		s.featureCache[key] = featureEntry{id: id, valueType: valueType}
		return nil
	case err == sql.ErrNoRows:
		res, ierr := s.conn().Exec(
			`INSERT INTO tiers(unittype, tier, feature, valuetype) VALUES (?,?,?,?)`,
			unitType, tier, feature, string(valueType),
		)
		if ierr != nil {
			return fmt.Errorf("store: create feature %s:%s for %s: %w", tier, feature, unitType, ierr)
		}
		id, ierr = res.LastInsertId()
		if ierr != nil {
			return fmt.Errorf("store: create feature %s:%s for %s: %w", tier, feature, unitType, ierr)
		}
		s.featureCache[key] = featureEntry{id: id, valueType: valueType}
		return nil
	default:
		return fmt.Errorf("store: create feature %s:%s for %s: %w", tier, feature, unitType, err)
	}
}

// GetFeature resolves (unitType, tier, feature) to its feature id and
// declared value type, returning SchemaError if unregistered.
func (s *Store) GetFeature(unitType, tier, feature string) (int64, ValueType, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getFeatureLocked(unitType, tier, feature)
}

func (s *Store) getFeatureLocked(unitType, tier, feature string) (int64, ValueType, error) {
	key := featureKey{unitType: unitType, tier: tier, feature: feature}
	if e, ok := s.featureCache[key]; ok {
		return e.id, e.valueType, nil
	}
	var id int64
	var vt string
	err := s.conn().QueryRow(
		`SELECT id, valuetype FROM tiers WHERE unittype=? AND tier=? AND feature=?`,
		unitType, tier, feature,
	).Scan(&id, &vt)
	if err == sql.ErrNoRows {
		return 0, "", NewSchemaError(fmt.Sprintf("no feature %s:%s registered for unit type %s", tier, feature, unitType))
	}
	if err != nil {
		return 0, "", fmt.Errorf("store: get feature %s:%s for %s: %w", tier, feature, unitType, err)
	}
	s.featureCache[key] = featureEntry{id: id, valueType: ValueType(vt)}
	return id, ValueType(vt), nil
}

// ListFeatures returns every "tier:feature" registered for unitType in
// the tiers table, regardless of whether any unit of that type
// actually carries a value for it. Used by result projection (AddTier)
// to enumerate a tier's full declared schema rather than only the
// features a particular instance happens to have set.
func (s *Store) ListFeatures(unitType string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.conn().Query(`SELECT tier, feature FROM tiers WHERE unittype=?`, unitType)
	if err != nil {
		return nil, fmt.Errorf("store: list features for %s: %w", unitType, err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var tier, feature string
		if err := rows.Scan(&tier, &feature); err != nil {
			return nil, fmt.Errorf("store: list features for %s: %w", unitType, err)
		}
		out = append(out, tier+":"+feature)
	}
	return out, rows.Err()
}

// GetFeatureMultiType resolves a feature name against several
// candidate unit types, returning one (type, id, valuetype) row per
// type that actually registers it. Used when compiling a query Unit
// with a disjunctive type set.
func (s *Store) GetFeatureMultiType(unitTypes []string, tier, feature string) (map[string]featureEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]featureEntry)
	for _, ut := range unitTypes {
		id, vt, err := s.getFeatureLocked(ut, tier, feature)
		if err != nil {
			var se *SchemaError
			if ok := errorsAs(err, &se); ok {
				continue
			}
			return nil, err
		}
		out[ut] = featureEntry{id: id, valueType: vt}
	}
	return out, nil
}

// errorsAs is a tiny local indirection so this file does not need to
// import "errors" solely for the single As call in GetFeatureMultiType.
func errorsAs(err error, target **SchemaError) bool {
	se, ok := err.(*SchemaError)
	if ok {
		*target = se
	}
	return ok
}

// CreateUnit creates a new unit of unitType inside its own transaction
// scope (or the caller's, if already inside one), sets its implicit
// meta:active feature true, and returns its id.
func (s *Store) CreateUnit(unitType string, user string) (int64, error) {
	var id int64
	err := s.Transaction(func() error {
		s.mu.Lock()
		if _, err := s.ensureType(unitType); err != nil {
			s.mu.Unlock()
			return err
		}
		now := nowStamp()
		res, err := s.conn().Exec(
			`INSERT INTO units(type, created, modified) VALUES (?,?,?)`,
			unitType, now, now,
		)
		if err != nil {
			s.mu.Unlock()
			return fmt.Errorf("store: create unit of type %s: %w", unitType, err)
		}
		newID, err := res.LastInsertId()
		s.mu.Unlock()
		if err != nil {
			return fmt.Errorf("store: create unit of type %s: %w", unitType, err)
		}
		id = newID
		return s.SetFeature(id, metaTier+":"+activeFeat, true, user, 1)
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// CreateUnitWithFeatures creates a unit and assigns every entry of
// features in one transaction scope.
func (s *Store) CreateUnitWithFeatures(unitType string, features map[string]any, user string) (int64, error) {
	var id int64
	err := s.Transaction(func() error {
		newID, err := s.CreateUnit(unitType, user)
		if err != nil {
			return err
		}
		id = newID
		for name, val := range features {
			if err := s.SetFeature(id, name, val, user, 1); err != nil {
				return err
			}
		}
		return nil
	})
	return id, err
}

// GetUnitType returns the stored type of id, or MissingUnit if id does
// not exist.
func (s *Store) GetUnitType(id int64) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var t string
	err := s.conn().QueryRow(`SELECT type FROM units WHERE id=?`, id).Scan(&t)
	if err == sql.ErrNoRows {
		return "", &MissingUnit{UnitID: id}
	}
	if err != nil {
		return "", fmt.Errorf("store: get unit type %d: %w", id, err)
	}
	return t, nil
}

func checkType(valueType ValueType, value any) error {
	switch valueType {
	case ValueStr:
		if _, ok := value.(string); !ok {
			return &TypeMismatch{ValueType: valueType, Got: value}
		}
	case ValueBool:
		if _, ok := value.(bool); !ok {
			return &TypeMismatch{ValueType: valueType, Got: value}
		}
	case ValueInt, ValueRef:
		switch value.(type) {
		case int, int32, int64:
		default:
			return &TypeMismatch{ValueType: valueType, Got: value}
		}
	}
	return nil
}

func encodeValue(valueType ValueType, value any) (sql.NullString, sql.NullInt64, error) {
	if err := checkType(valueType, value); err != nil {
		return sql.NullString{}, sql.NullInt64{}, err
	}
	switch valueType {
	case ValueStr:
		return sql.NullString{String: value.(string), Valid: true}, sql.NullInt64{}, nil
	case ValueBool:
		b := value.(bool)
		return sql.NullString{}, sql.NullInt64{Int64: boolToInt(b), Valid: true}, nil
	case ValueInt, ValueRef:
		return sql.NullString{}, sql.NullInt64{Int64: toInt64(value), Valid: true}, nil
	default:
		return sql.NullString{}, sql.NullInt64{}, NewSchemaError(fmt.Sprintf("unknown value type %q", valueType))
	}
}

func toInt64(value any) int64 {
	switch v := value.(type) {
	case int:
		return int64(v)
	case int32:
		return int64(v)
	case int64:
		return v
	default:
		return 0
	}
}

// interpretValue decodes a stored row back into the type valueType
// declares: int/ref columns come from value_int, str from value_str,
// bool from value_int interpreted as 0/1.
func interpretValue(valueType ValueType, vs sql.NullString, vi sql.NullInt64) any {
	switch valueType {
	case ValueStr:
		if vs.Valid {
			return vs.String
		}
		return nil
	case ValueBool:
		if vi.Valid {
			return vi.Int64 != 0
		}
		return nil
	case ValueInt, ValueRef:
		if vi.Valid {
			return vi.Int64
		}
		return nil
	default:
		return nil
	}
}

// SetFeature upserts the authoritative value of name for unit id:
// UPDATE first, and INSERT OR IGNORE to cover the not-yet-present
// case, matching RBBLFile.set_feature's two-statement upsert.
func (s *Store) SetFeature(id int64, name string, value any, user string, confidence float64) error {
	tier, feature, err := SplitFeatureName(name)
	if err != nil {
		return NewConfigError(err.Error())
	}
	return s.Transaction(func() error {
		unitType, err := s.GetUnitType(id)
		if err != nil {
			return err
		}
		s.mu.Lock()
		featID, valueType, err := s.getFeatureLocked(unitType, tier, feature)
		if err != nil {
			s.mu.Unlock()
			return err
		}
		s.mu.Unlock()
		vs, vi, err := encodeValue(valueType, value)
		if err != nil {
			return fmt.Errorf("store: set feature %s on unit %d: %w", name, id, err)
		}
		now := nowStamp()
		s.mu.Lock()
		defer s.mu.Unlock()
		res, err := s.conn().Exec(
			`UPDATE features SET value_str=?, value_int=?, user=?, confidence=?, date=? WHERE unit=? AND feature=?`,
			vs, vi, user, confidence, now, id, featID,
		)
		if err != nil {
			return fmt.Errorf("store: set feature %s on unit %d: %w", name, id, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("store: set feature %s on unit %d: %w", name, id, err)
		}
		if n > 0 {
			return nil
		}
		_, err = s.conn().Exec(
			`INSERT OR IGNORE INTO features(unit, feature, value_str, value_int, user, confidence, date) VALUES (?,?,?,?,?,?,?)`,
			id, featID, vs, vi, user, confidence, now,
		)
		if err != nil {
			return fmt.Errorf("store: set feature %s on unit %d: %w", name, id, err)
		}
		return nil
	})
}

// SetFeatureDist records a set of additive value suggestions for
// (unit, feature). Probabilities must be non-empty and strictly
// positive; unless normalize is false they are rescaled to sum to 1,
// mirroring RBBLFile.set_feature_dist.
func (s *Store) SetFeatureDist(id int64, name string, values []any, probabilities []float64, normalize bool) error {
	if len(values) == 0 || len(values) != len(probabilities) {
		return NewConfigError("set_feature_dist requires matching non-empty values and probabilities")
	}
	total := 0.0
	for _, p := range probabilities {
		if p <= 0 {
			return NewConfigError("set_feature_dist probabilities must be positive")
		}
		total += p
	}
	tier, feature, err := SplitFeatureName(name)
	if err != nil {
		return NewConfigError(err.Error())
	}
	return s.Transaction(func() error {
		unitType, err := s.GetUnitType(id)
		if err != nil {
			return err
		}
		s.mu.Lock()
		featID, valueType, err := s.getFeatureLocked(unitType, tier, feature)
		s.mu.Unlock()
		if err != nil {
			return err
		}
		now := nowStamp()
		for i, v := range values {
			p := probabilities[i]
			if normalize {
				p = p / total
			}
			vs, vi, err := encodeValue(valueType, v)
			if err != nil {
				return fmt.Errorf("store: set_feature_dist on unit %d: %w", id, err)
			}
			s.mu.Lock()
			_, err = s.conn().Exec(
				`INSERT INTO suggestions(unit, feature, value_str, value_int, probability, date, active) VALUES (?,?,?,?,?,?,1)`,
				id, featID, vs, vi, p, now,
			)
			s.mu.Unlock()
			if err != nil {
				return fmt.Errorf("store: set_feature_dist on unit %d: %w", id, err)
			}
		}
		return nil
	})
}

// GetFeatureValue returns the current authoritative value of name on
// unit id, or nil if unset.
func (s *Store) GetFeatureValue(id int64, name string) (any, error) {
	tier, feature, err := SplitFeatureName(name)
	if err != nil {
		return nil, NewConfigError(err.Error())
	}
	unitType, err := s.GetUnitType(id)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	featID, valueType, err := s.getFeatureLocked(unitType, tier, feature)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var vs sql.NullString
	var vi sql.NullInt64
	err = s.conn().QueryRow(
		`SELECT value_str, value_int FROM features WHERE unit=? AND feature=?`, id, featID,
	).Scan(&vs, &vi)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get feature %s on unit %d: %w", name, id, err)
	}
	return interpretValue(valueType, vs, vi), nil
}

// ClearFeature deletes unit id's authoritative row for name outright,
// so a subsequent existence check reports absent.
func (s *Store) ClearFeature(id int64, name string, user string) error {
	tier, feature, err := SplitFeatureName(name)
	if err != nil {
		return NewConfigError(err.Error())
	}
	return s.Transaction(func() error {
		unitType, err := s.GetUnitType(id)
		if err != nil {
			return err
		}
		s.mu.Lock()
		featID, _, err := s.getFeatureLocked(unitType, tier, feature)
		if err != nil {
			s.mu.Unlock()
			return err
		}
		_, err = s.conn().Exec(`DELETE FROM features WHERE unit=? AND feature=?`, id, featID)
		s.mu.Unlock()
		if err != nil {
			return fmt.Errorf("store: clear feature %s on unit %d: %w", name, id, err)
		}
		return nil
	})
}

// GetFeatureValues batch-resolves the authoritative value of a single
// feature id across many units in one query, mirroring
// db.py:get_feature_values. Units with no row are omitted.
func (s *Store) GetFeatureValues(featID int64, valueType ValueType, ids []int64) (map[int64]any, error) {
	if len(ids) == 0 {
		return map[int64]any{}, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	placeholders := make([]any, 0, len(ids)+1)
	placeholders = append(placeholders, featID)
	q := `SELECT unit, value_str, value_int FROM features WHERE feature=? AND unit IN (`
	for i, id := range ids {
		if i > 0 {
			q += ","
		}
		q += "?"
		placeholders = append(placeholders, id)
	}
	q += ")"
	rows, err := s.conn().Query(q, placeholders...)
	if err != nil {
		return nil, fmt.Errorf("store: get feature values: %w", err)
	}
	defer rows.Close()
	out := make(map[int64]any, len(ids))
	for rows.Next() {
		var unit int64
		var vs sql.NullString
		var vi sql.NullInt64
		if err := rows.Scan(&unit, &vs, &vi); err != nil {
			return nil, fmt.Errorf("store: get feature values: %w", err)
		}
		out[unit] = interpretValue(valueType, vs, vi)
	}
	return out, rows.Err()
}

// GetAllFeatures returns every (tier:feature -> value) pair currently
// set on unit id.
func (s *Store) GetAllFeatures(id int64) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.conn().Query(
		`SELECT t.tier, t.feature, t.valuetype, f.value_str, f.value_int
		 FROM features f JOIN tiers t ON f.feature = t.id
		 WHERE f.unit=?`, id,
	)
	if err != nil {
		return nil, fmt.Errorf("store: get all features for unit %d: %w", id, err)
	}
	defer rows.Close()
	out := make(map[string]any)
	for rows.Next() {
		var tier, feature, vt string
		var vs sql.NullString
		var vi sql.NullInt64
		if err := rows.Scan(&tier, &feature, &vt, &vs, &vi); err != nil {
			return nil, fmt.Errorf("store: get all features for unit %d: %w", id, err)
		}
		out[JoinFeatureName(tier, feature)] = interpretValue(ValueType(vt), vs, vi)
	}
	return out, rows.Err()
}

// SetParent attaches child to parent. If primary, any existing active
// primary parent relation for child is deactivated first, so a child
// keeps at most one active primary parent.
func (s *Store) SetParent(parent, child int64, primary bool) error {
	return s.Transaction(func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		if primary {
			if _, err := s.conn().Exec(
				`UPDATE relations SET active=0 WHERE child=? AND isprimary=1 AND active=1`, child,
			); err != nil {
				return fmt.Errorf("store: set parent %d->%d: %w", parent, child, err)
			}
		}
		_, err := s.conn().Exec(
			`INSERT INTO relations(parent, child, isprimary, active, date) VALUES (?,?,?,1,?)`,
			parent, child, boolToInt(primary), nowStamp(),
		)
		if err != nil {
			return fmt.Errorf("store: set parent %d->%d: %w", parent, child, err)
		}
		return nil
	})
}

// RemParent deactivates the relation(s) between parent and child. If
// primaryOnly, only an active primary relation is cleared.
func (s *Store) RemParent(parent, child int64, primaryOnly bool) error {
	return s.Transaction(func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		q := `UPDATE relations SET active=0 WHERE parent=? AND child=? AND active=1`
		args := []any{parent, child}
		if primaryOnly {
			q += ` AND isprimary=1`
		}
		_, err := s.conn().Exec(q, args...)
		if err != nil {
			return fmt.Errorf("store: remove parent %d->%d: %w", parent, child, err)
		}
		return nil
	})
}

// GetParent returns the active primary parent of child, if any.
func (s *Store) GetParent(child int64) (int64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var parent int64
	err := s.conn().QueryRow(
		`SELECT parent FROM relations WHERE child=? AND isprimary=1 AND active=1 LIMIT 1`, child,
	).Scan(&parent)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("store: get parent of %d: %w", child, err)
	}
	return parent, true, nil
}

// GetChildren returns the active-primary children of parent, per Open
// Question 3 (secondary relations are excluded).
func (s *Store) GetChildren(parent int64) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.conn().Query(
		`SELECT child FROM relations WHERE parent=? AND isprimary=1 AND active=1`, parent,
	)
	if err != nil {
		return nil, fmt.Errorf("store: get children of %d: %w", parent, err)
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var c int64
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("store: get children of %d: %w", parent, err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetUnits lists active units of unitType, optionally restricted to
// children of parent.
func (s *Store) GetUnits(unitType string, parent *int64) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var rows *sql.Rows
	var err error
	if parent == nil {
		rows, err = s.conn().Query(
			`SELECT u.id FROM units u
			 JOIN tiers t ON t.unittype=u.type AND t.tier=? AND t.feature=?
			 JOIN features f ON f.unit=u.id AND f.feature=t.id
			 WHERE u.type=? AND f.value_int=1`,
			metaTier, activeFeat, unitType,
		)
	} else {
		rows, err = s.conn().Query(
			`SELECT u.id FROM units u
			 JOIN tiers t ON t.unittype=u.type AND t.tier=? AND t.feature=?
			 JOIN features f ON f.unit=u.id AND f.feature=t.id
			 JOIN relations r ON r.child=u.id AND r.isprimary=1 AND r.active=1
			 WHERE u.type=? AND f.value_int=1 AND r.parent=?`,
			metaTier, activeFeat, unitType, *parent,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get units of type %s: %w", unitType, err)
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("store: get units of type %s: %w", unitType, err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// Deactivate marks unit id inactive (meta:active=false) without
// deleting its row, its feature history, or its relations.
func (s *Store) Deactivate(id int64, user string) error {
	return s.SetFeature(id, MetaActiveFeature, false, user, 1)
}

// FindUnitsByFeatureValue returns the active units of unitType whose
// name feature currently holds value, the lookup a staging buffer
// performs once per distinct merge-key value when resolving a batch
// against existing corpus content.
func (s *Store) FindUnitsByFeatureValue(unitType, name string, value any) ([]int64, error) {
	tier, feature, err := SplitFeatureName(name)
	if err != nil {
		return nil, NewConfigError(err.Error())
	}
	s.mu.Lock()
	featID, valueType, err := s.getFeatureLocked(unitType, tier, feature)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	vs, vi, err := encodeValue(valueType, value)
	if err != nil {
		return nil, fmt.Errorf("store: find units by %s: %w", name, err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.conn().Query(
		`SELECT u.id FROM units u
		 JOIN features f ON f.unit=u.id AND f.feature=?
		 JOIN tiers ta ON ta.unittype=u.type AND ta.tier=? AND ta.feature=?
		 JOIN features fa ON fa.unit=u.id AND fa.feature=ta.id
		 WHERE u.type=? AND fa.value_int=1 AND (f.value_str IS ?) AND (f.value_int IS ?)`,
		featID, metaTier, activeFeat, unitType, vs, vi,
	)
	if err != nil {
		return nil, fmt.Errorf("store: find units by %s: %w", name, err)
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("store: find units by %s: %w", name, err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
