// Package persistence provides SQLite-based storage of the collective's
// state and a compressed log of per-tick decisions.
package persistence

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/talgya/collective/internal/agents"
	"github.com/talgya/collective/internal/construction"
	"github.com/talgya/collective/internal/economy"
	"github.com/talgya/collective/internal/engine"
	"github.com/talgya/collective/internal/world"
)

// DB wraps a SQLite connection for collective state persistence.
type DB struct {
	conn *sqlx.DB
}

// Open opens or creates a SQLite database at the given path.
func Open(path string) (*DB, error) {
	conn, err := sqlx.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS agents (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		category TEXT NOT NULL,
		level INTEGER NOT NULL,
		pos_q INTEGER NOT NULL,
		pos_r INTEGER NOT NULL,
		health REAL NOT NULL,
		alive INTEGER NOT NULL,
		activity TEXT NOT NULL,
		recruited_tick INTEGER NOT NULL,
		carried_json TEXT NOT NULL,
		equipment_json TEXT NOT NULL,
		orders_json TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS credits (
		kind TEXT PRIMARY KEY,
		amount INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS constructions (
		pos_q INTEGER NOT NULL,
		pos_r INTEGER NOT NULL,
		structure TEXT NOT NULL,
		cost_kind TEXT NOT NULL,
		cost_value INTEGER NOT NULL,
		built INTEGER NOT NULL,
		retry_at INTEGER NOT NULL,
		PRIMARY KEY (pos_q, pos_r)
	);

	CREATE TABLE IF NOT EXISTS traps (
		pos_q INTEGER NOT NULL,
		pos_r INTEGER NOT NULL,
		proto TEXT NOT NULL,
		armed INTEGER NOT NULL,
		marked_at INTEGER NOT NULL,
		retry_at INTEGER NOT NULL,
		PRIMARY KEY (pos_q, pos_r)
	);

	CREATE TABLE IF NOT EXISTS digs (
		pos_q INTEGER NOT NULL,
		pos_r INTEGER NOT NULL,
		PRIMARY KEY (pos_q, pos_r)
	);

	CREATE TABLE IF NOT EXISTS hexes (
		pos_q INTEGER NOT NULL,
		pos_r INTEGER NOT NULL,
		terrain INTEGER NOT NULL,
		furniture INTEGER NOT NULL,
		structure TEXT NOT NULL,
		storage INTEGER NOT NULL,
		territory INTEGER NOT NULL,
		items_json TEXT NOT NULL,
		PRIMARY KEY (pos_q, pos_r)
	);

	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		tick INTEGER NOT NULL,
		description TEXT NOT NULL,
		category TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS collective_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_events_tick ON events(tick);
	CREATE INDEX IF NOT EXISTS idx_agents_alive ON agents(alive);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// agentOrders holds an agent's manual assignments.
type agentOrders struct {
	LastTransition *world.HexCoord     `json:"last_transition,omitempty"`
	ControlledBy   *agents.AgentID     `json:"controlled_by,omitempty"`
	GuardPost      *world.HexCoord     `json:"guard_post,omitempty"`
	Prisoner       *agents.AgentID     `json:"prisoner,omitempty"`
	Duty           agents.PrisonerDuty `json:"duty,omitempty"`
}

type agentRow struct {
	ID            uint64  `db:"id"`
	Name          string  `db:"name"`
	Category      string  `db:"category"`
	Level         uint32  `db:"level"`
	Q             int     `db:"pos_q"`
	R             int     `db:"pos_r"`
	Health        float64 `db:"health"`
	Alive         bool    `db:"alive"`
	Activity      string  `db:"activity"`
	RecruitedTick uint64  `db:"recruited_tick"`
	CarriedJSON   string  `db:"carried_json"`
	EquipmentJSON string  `db:"equipment_json"`
	OrdersJSON    string  `db:"orders_json"`
}

// SaveAgents writes all agents to the database (full replace).
func (db *DB) SaveAgents(list []engine.AgentState) error {
	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM agents"); err != nil {
		return err
	}

	for _, a := range list {
		carried, _ := json.Marshal(a.Carried)
		equipment, _ := json.Marshal(a.Equipment)
		orders, _ := json.Marshal(agentOrders{
			LastTransition: a.LastTransition,
			ControlledBy:   a.ControlledBy,
			GuardPost:      a.GuardPost,
			Prisoner:       a.Prisoner,
			Duty:           a.Duty,
		})
		row := agentRow{
			ID:            uint64(a.ID),
			Name:          a.Name,
			Category:      a.Category.String(),
			Level:         uint32(a.Level),
			Q:             a.Position.Q,
			R:             a.Position.R,
			Health:        float64(a.Health),
			Alive:         a.Alive,
			Activity:      a.Activity.String(),
			RecruitedTick: a.RecruitedTick,
			CarriedJSON:   string(carried),
			EquipmentJSON: string(equipment),
			OrdersJSON:    string(orders),
		}
		_, err := tx.NamedExec(`INSERT INTO agents
			(id, name, category, level, pos_q, pos_r, health, alive, activity,
			 recruited_tick, carried_json, equipment_json, orders_json)
			VALUES (:id, :name, :category, :level, :pos_q, :pos_r, :health, :alive, :activity,
			 :recruited_tick, :carried_json, :equipment_json, :orders_json)`, row)
		if err != nil {
			return fmt.Errorf("insert agent %d: %w", a.ID, err)
		}
	}

	return tx.Commit()
}

// LoadAgents reads every saved agent in id order.
func (db *DB) LoadAgents() ([]engine.AgentState, error) {
	var rows []agentRow
	if err := db.conn.Select(&rows, "SELECT * FROM agents ORDER BY id"); err != nil {
		return nil, err
	}
	out := make([]engine.AgentState, 0, len(rows))
	for _, r := range rows {
		cat, err := agents.ParseCategory(r.Category)
		if err != nil {
			return nil, fmt.Errorf("agent %d: %w", r.ID, err)
		}
		act, err := agents.ParseActivity(r.Activity)
		if err != nil {
			return nil, fmt.Errorf("agent %d: %w", r.ID, err)
		}
		var orders agentOrders
		a := agents.Agent{
			ID:            agents.AgentID(r.ID),
			Name:          r.Name,
			Category:      cat,
			Level:         world.LevelID(r.Level),
			Position:      world.HexCoord{Q: r.Q, R: r.R},
			Health:        float32(r.Health),
			Alive:         r.Alive,
			RecruitedTick: r.RecruitedTick,
		}
		if err := errors.Join(
			json.Unmarshal([]byte(r.CarriedJSON), &a.Carried),
			json.Unmarshal([]byte(r.EquipmentJSON), &a.Equipment),
			json.Unmarshal([]byte(r.OrdersJSON), &orders),
		); err != nil {
			return nil, fmt.Errorf("agent %d: %w", r.ID, err)
		}
		a.LastTransition = orders.LastTransition
		a.ControlledBy = orders.ControlledBy
		a.GuardPost = orders.GuardPost
		a.Prisoner = orders.Prisoner
		a.Duty = orders.Duty
		out = append(out, engine.AgentState{Agent: a, Activity: act})
	}
	return out, nil
}

// SaveCredits writes the abstract resource balances.
func (db *DB) SaveCredits(credits [economy.NumResources]int) error {
	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for k, n := range credits {
		if _, err := tx.Exec("INSERT OR REPLACE INTO credits (kind, amount) VALUES (?, ?)",
			economy.ResourceKind(k).String(), n); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// LoadCredits reads the abstract resource balances.
func (db *DB) LoadCredits() ([economy.NumResources]int, error) {
	var out [economy.NumResources]int
	var rows []struct {
		Kind   string `db:"kind"`
		Amount int    `db:"amount"`
	}
	if err := db.conn.Select(&rows, "SELECT kind, amount FROM credits"); err != nil {
		return out, err
	}
	for _, r := range rows {
		k, err := economy.ParseResourceKind(r.Kind)
		if err != nil {
			return out, err
		}
		out[k] = r.Amount
	}
	return out, nil
}

type constructionRow struct {
	Q         int    `db:"pos_q"`
	R         int    `db:"pos_r"`
	Structure string `db:"structure"`
	CostKind  string `db:"cost_kind"`
	CostValue int    `db:"cost_value"`
	Built     bool   `db:"built"`
	RetryAt   uint64 `db:"retry_at"`
}

type trapRow struct {
	Q        int    `db:"pos_q"`
	R        int    `db:"pos_r"`
	Proto    string `db:"proto"`
	Armed    bool   `db:"armed"`
	MarkedAt uint64 `db:"marked_at"`
	RetryAt  uint64 `db:"retry_at"`
}

// SaveConstructions replaces the construction and trap records.
func (db *DB) SaveConstructions(records []construction.Record, traps []construction.TrapRecord) error {
	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM constructions; DELETE FROM traps"); err != nil {
		return err
	}
	for _, r := range records {
		row := constructionRow{
			Q: r.Location.Q, R: r.Location.R,
			Structure: string(r.Kind),
			CostKind:  r.Cost.Kind.String(), CostValue: r.Cost.Value,
			Built: r.Built, RetryAt: r.RetryAt,
		}
		if _, err := tx.NamedExec(`INSERT INTO constructions
			(pos_q, pos_r, structure, cost_kind, cost_value, built, retry_at)
			VALUES (:pos_q, :pos_r, :structure, :cost_kind, :cost_value, :built, :retry_at)`, row); err != nil {
			return fmt.Errorf("insert construction %v: %w", r.Location, err)
		}
	}
	for _, t := range traps {
		row := trapRow{Q: t.Location.Q, R: t.Location.R, Proto: t.Proto, Armed: t.Armed, MarkedAt: t.MarkedAt, RetryAt: t.RetryAt}
		if _, err := tx.NamedExec(`INSERT INTO traps
			(pos_q, pos_r, proto, armed, marked_at, retry_at)
			VALUES (:pos_q, :pos_r, :proto, :armed, :marked_at, :retry_at)`, row); err != nil {
			return fmt.Errorf("insert trap %v: %w", t.Location, err)
		}
	}
	return tx.Commit()
}

// LoadConstructions reads the construction and trap records.
func (db *DB) LoadConstructions() ([]construction.Record, []construction.TrapRecord, error) {
	var crows []constructionRow
	if err := db.conn.Select(&crows, "SELECT * FROM constructions ORDER BY pos_r, pos_q"); err != nil {
		return nil, nil, err
	}
	var trows []trapRow
	if err := db.conn.Select(&trows, "SELECT * FROM traps ORDER BY pos_r, pos_q"); err != nil {
		return nil, nil, err
	}
	records := make([]construction.Record, 0, len(crows))
	for _, r := range crows {
		kind, err := economy.ParseResourceKind(r.CostKind)
		if err != nil {
			return nil, nil, err
		}
		records = append(records, construction.Record{
			Location: world.HexCoord{Q: r.Q, R: r.R},
			Kind:     world.StructureKind(r.Structure),
			Cost:     economy.Cost(kind, r.CostValue),
			Built:    r.Built,
			RetryAt:  r.RetryAt,
		})
	}
	traps := make([]construction.TrapRecord, 0, len(trows))
	for _, t := range trows {
		traps = append(traps, construction.TrapRecord{
			Location: world.HexCoord{Q: t.Q, R: t.R},
			Proto:    t.Proto,
			Armed:    t.Armed,
			MarkedAt: t.MarkedAt,
			RetryAt:  t.RetryAt,
		})
	}
	return records, traps, nil
}

// SaveDigs replaces the pending dig orders.
func (db *DB) SaveDigs(locs []world.HexCoord) error {
	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM digs"); err != nil {
		return err
	}
	for _, loc := range locs {
		if _, err := tx.Exec("INSERT INTO digs (pos_q, pos_r) VALUES (?, ?)", loc.Q, loc.R); err != nil {
			return fmt.Errorf("insert dig %v: %w", loc, err)
		}
	}
	return tx.Commit()
}

// LoadDigs reads the pending dig orders.
func (db *DB) LoadDigs() ([]world.HexCoord, error) {
	var rows []struct {
		Q int `db:"pos_q"`
		R int `db:"pos_r"`
	}
	if err := db.conn.Select(&rows, "SELECT pos_q, pos_r FROM digs ORDER BY pos_r, pos_q"); err != nil {
		return nil, err
	}
	out := make([]world.HexCoord, 0, len(rows))
	for _, r := range rows {
		out = append(out, world.HexCoord{Q: r.Q, R: r.R})
	}
	return out, nil
}

type hexRow struct {
	Q         int    `db:"pos_q"`
	R         int    `db:"pos_r"`
	Terrain   uint8  `db:"terrain"`
	Furniture uint8  `db:"furniture"`
	Structure string `db:"structure"`
	Storage   uint8  `db:"storage"`
	Territory bool   `db:"territory"`
	ItemsJSON string `db:"items_json"`
}

// SaveMap writes every hex of m (full replace).
func (db *DB) SaveMap(m *world.Map) error {
	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM hexes"); err != nil {
		return err
	}
	stmt, err := tx.Preparex(`INSERT INTO hexes
		(pos_q, pos_r, terrain, furniture, structure, storage, territory, items_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for c, h := range m.Hexes {
		items := "[]"
		if len(h.Items) > 0 {
			b, _ := json.Marshal(h.Items)
			items = string(b)
		}
		if _, err := stmt.Exec(c.Q, c.R, h.Terrain, h.Furniture, string(h.Structure), h.Storage, h.Territory, items); err != nil {
			return fmt.Errorf("insert hex %v: %w", c, err)
		}
	}
	return tx.Commit()
}

// LoadMap overlays saved hexes onto a freshly generated m. Item
// reservations belonged to tasks that were not saved and are dropped.
func (db *DB) LoadMap(m *world.Map) error {
	var rows []hexRow
	if err := db.conn.Select(&rows, "SELECT * FROM hexes"); err != nil {
		return err
	}
	for _, r := range rows {
		h := &world.Hex{
			Coord:     world.HexCoord{Q: r.Q, R: r.R},
			Terrain:   world.Terrain(r.Terrain),
			Furniture: world.FurnitureKind(r.Furniture),
			Structure: world.StructureKind(r.Structure),
			Storage:   world.StorageKind(r.Storage),
			Territory: r.Territory,
		}
		if old := m.Get(h.Coord); old != nil {
			h.Elevation = old.Elevation
		}
		if err := json.Unmarshal([]byte(r.ItemsJSON), &h.Items); err != nil {
			return fmt.Errorf("hex %v items: %w", h.Coord, err)
		}
		for i := range h.Items {
			h.Items[i].Reserved = false
		}
		m.Set(h)
	}
	return nil
}

// SaveEvents appends events to the database.
func (db *DB) SaveEvents(events []engine.Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, e := range events {
		_, err := tx.Exec(
			"INSERT INTO events (tick, description, category) VALUES (?, ?, ?)",
			e.Tick, e.Description, e.Category,
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// SaveMeta stores a key-value pair in collective metadata.
func (db *DB) SaveMeta(key, value string) error {
	_, err := db.conn.Exec(
		"INSERT OR REPLACE INTO collective_meta (key, value) VALUES (?, ?)",
		key, value,
	)
	return err
}

// GetMeta retrieves a metadata value.
func (db *DB) GetMeta(key string) (string, error) {
	var value string
	err := db.conn.Get(&value, "SELECT value FROM collective_meta WHERE key = ?", key)
	return value, err
}

// HasState reports whether a collective has been saved.
func (db *DB) HasState() bool {
	_, err := db.GetMeta("last_tick")
	return err == nil
}

func (db *DB) metaUint(key string) (uint64, error) {
	s, err := db.GetMeta(key)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(s, 10, 64)
}

// Checkpoint saves c while holding its lock.
func (db *DB) Checkpoint(c *engine.Collective) error {
	return c.Checkpoint(db.SaveState)
}

// SaveState performs a full save. Only events newer than the previous save
// are appended.
func (db *DB) SaveState(s engine.State, m *world.Map, events []engine.Event) error {
	slog.Info("saving collective state", "agents", len(s.Agents), "tick", s.Tick)

	since, err := db.metaUint("events_through")
	if err != nil {
		return fmt.Errorf("read meta: %w", err)
	}
	var fresh []engine.Event
	for _, e := range events {
		if e.Tick > since || (since == 0 && e.Tick == 0) {
			fresh = append(fresh, e)
		}
	}

	if err := db.SaveAgents(s.Agents); err != nil {
		return fmt.Errorf("save agents: %w", err)
	}
	if err := db.SaveCredits(s.Credits); err != nil {
		return fmt.Errorf("save credits: %w", err)
	}
	if err := db.SaveConstructions(s.Constructions, s.Traps); err != nil {
		return fmt.Errorf("save constructions: %w", err)
	}
	if err := db.SaveDigs(s.Digs); err != nil {
		return fmt.Errorf("save digs: %w", err)
	}
	if err := db.SaveMap(m); err != nil {
		return fmt.Errorf("save map: %w", err)
	}
	if err := db.SaveEvents(fresh); err != nil {
		return fmt.Errorf("save events: %w", err)
	}
	for k, v := range map[string]uint64{
		"last_tick":      s.Tick,
		"events_through": s.Tick,
		"recruited":      uint64(s.Recruited),
		"researched":     uint64(s.Researched),
	} {
		if err := db.SaveMeta(k, strconv.FormatUint(v, 10)); err != nil {
			return fmt.Errorf("save meta: %w", err)
		}
	}

	slog.Info("collective state saved", "events", len(fresh))
	return nil
}

// LoadState reads the saved state and overlays the saved map onto m.
func (db *DB) LoadState(m *world.Map) (engine.State, error) {
	var s engine.State
	var err error
	if s.Tick, err = db.metaUint("last_tick"); err != nil {
		return s, fmt.Errorf("load meta: %w", err)
	}
	recruited, err := db.metaUint("recruited")
	if err != nil {
		return s, fmt.Errorf("load meta: %w", err)
	}
	researched, err := db.metaUint("researched")
	if err != nil {
		return s, fmt.Errorf("load meta: %w", err)
	}
	s.Recruited, s.Researched = int(recruited), int(researched)

	if s.Agents, err = db.LoadAgents(); err != nil {
		return s, fmt.Errorf("load agents: %w", err)
	}
	if s.Credits, err = db.LoadCredits(); err != nil {
		return s, fmt.Errorf("load credits: %w", err)
	}
	if s.Constructions, s.Traps, err = db.LoadConstructions(); err != nil {
		return s, fmt.Errorf("load constructions: %w", err)
	}
	if s.Digs, err = db.LoadDigs(); err != nil {
		return s, fmt.Errorf("load digs: %w", err)
	}
	if err := db.LoadMap(m); err != nil {
		return s, fmt.Errorf("load map: %w", err)
	}
	return s, nil
}

// RecentEvents returns the most recent N events.
func (db *DB) RecentEvents(limit int) ([]engine.Event, error) {
	var events []engine.Event
	err := db.conn.Select(&events,
		"SELECT tick, description, category FROM events ORDER BY id DESC LIMIT ?",
		limit,
	)
	return events, err
}
