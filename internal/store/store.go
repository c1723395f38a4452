// Package store loads projects, nodes and elevation grids from the
// PostgreSQL/PostGIS planning database.
package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/lib/pq"

	"github.com/gogpu/mesh3d/internal/logging"
	"github.com/gogpu/mesh3d/rf"
	"github.com/gogpu/mesh3d/tile"
)

var (
	// ErrNotFound is returned when the project or its grid does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrMalformed is returned when a stored grid does not match its size.
	ErrMalformed = errors.New("store: malformed data")
)

const (
	listProjectsSQL = `SELECT id, name,
		ST_YMin(bounds::geometry), ST_YMax(bounds::geometry),
		ST_XMin(bounds::geometry), ST_XMax(bounds::geometry)
		FROM projects ORDER BY id`

	loadProjectSQL = `SELECT id, name,
		ST_YMin(bounds::geometry), ST_YMax(bounds::geometry),
		ST_XMin(bounds::geometry), ST_XMax(bounds::geometry)
		FROM projects WHERE id = $1`

	loadNodesSQL = `SELECT n.id, n.name,
		ST_Y(n.location::geometry), ST_X(n.location::geometry),
		COALESCE(ST_Z(n.location::geometry), 0),
		COALESCE(n.antenna_height_m, 0), COALESCE(n.role, 2), COALESCE(n.max_range_km, 0),
		COALESCE(n.hardware_profile_id::text, ''),
		h.tx_power_dbm, h.antenna_gain_dbi, h.rx_sensitivity_dbm, h.frequency_mhz
		FROM nodes n
		LEFT JOIN hardware_profiles h ON n.hardware_profile_id = h.id
		WHERE n.project_id = $1
		ORDER BY n.id`

	loadElevationSQL = `SELECT grid_rows, grid_cols, elevation_data,
		ST_YMin(bounds::geometry), ST_YMax(bounds::geometry),
		ST_XMin(bounds::geometry), ST_XMax(bounds::geometry)
		FROM elevation_grids WHERE project_id = $1 LIMIT 1`
)

// Fallback RF values for nodes without a hardware profile.
const (
	fallbackTxPowerDbm   = 27
	fallbackRxSensDbm    = -130
	fallbackFrequencyMHz = 906
)

// Store wraps a connection pool.
type Store struct {
	db *sql.DB
}

// Project is one planning project.
type Project struct {
	ID     int
	Name   string
	Bounds tile.Bounds
}

// ElevationGrid is a project's stored terrain, row 0 north.
type ElevationGrid struct {
	Rows, Cols int
	Data       []float32
	Bounds     tile.Bounds
}

// Open opens a pool for dsn. The connection is made lazily; use Ping to
// check it.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	return &Store{db: db}, nil
}

// Attach wraps an existing pool.
func Attach(db *sql.DB) *Store { return &Store{db: db} }

// Close closes the pool.
func (s *Store) Close() error { return s.db.Close() }

// Ping verifies the connection.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return wrap("ping", err)
	}
	return nil
}

// DSNFromEnv builds a DSN from PG_HOST, PG_PORT, PG_USER, PG_PASSWORD,
// PG_DB and PG_SSLMODE.
func DSNFromEnv() string {
	get := func(k, def string) string {
		if v := os.Getenv(k); v != "" {
			return v
		}
		return def
	}
	dsn := "postgres://" + get("PG_USER", "postgres")
	if pass := os.Getenv("PG_PASSWORD"); pass != "" {
		dsn += ":" + pass
	}
	return dsn + "@" + get("PG_HOST", "localhost") + ":" + get("PG_PORT", "5432") +
		"/" + get("PG_DB", "mesh3d") + "?sslmode=" + get("PG_SSLMODE", "disable")
}

// wrap annotates err with the postgres error code when there is one.
func wrap(op string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return fmt.Errorf("store: %s: %s (%s): %w", op, pqErr.Message, pqErr.Code, err)
	}
	return fmt.Errorf("store: %s: %w", op, err)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(row rowScanner) (Project, error) {
	var (
		p                              Project
		minLat, maxLat, minLon, maxLon sql.NullFloat64
	)
	if err := row.Scan(&p.ID, &p.Name, &minLat, &maxLat, &minLon, &maxLon); err != nil {
		return Project{}, err
	}
	p.Bounds = tile.Bounds{MinLat: minLat.Float64, MaxLat: maxLat.Float64, MinLon: minLon.Float64, MaxLon: maxLon.Float64}
	return p, nil
}

// ListProjects returns every project ordered by id.
func (s *Store) ListProjects(ctx context.Context) ([]Project, error) {
	rows, err := s.db.QueryContext(ctx, listProjectsSQL)
	if err != nil {
		return nil, wrap("list projects", err)
	}
	defer rows.Close()
	var out []Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, wrap("list projects", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("list projects", err)
	}
	return out, nil
}

// LoadProject returns project id.
func (s *Store) LoadProject(ctx context.Context, id int) (Project, error) {
	p, err := scanProject(s.db.QueryRowContext(ctx, loadProjectSQL, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Project{}, fmt.Errorf("store: project %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return Project{}, wrap("load project", err)
	}
	logging.L().Info("store: project", "id", p.ID, "name", p.Name, "bounds", p.Bounds)
	return p, nil
}

// LoadNodes returns the nodes of project id. Nodes without a profile row
// take the built-in preset named by their profile id, or fallback values.
func (s *Store) LoadNodes(ctx context.Context, id int) ([]rf.Node, error) {
	rows, err := s.db.QueryContext(ctx, loadNodesSQL, id)
	if err != nil {
		return nil, wrap("load nodes", err)
	}
	defer rows.Close()
	var out []rf.Node
	for rows.Next() {
		var (
			n                    rf.Node
			role                 int
			profileID            string
			tx, gain, sens, freq sql.NullFloat64
		)
		if err := rows.Scan(&n.ID, &n.Name, &n.Lat, &n.Lon, &n.Alt,
			&n.AntennaHeightM, &role, &n.MaxRangeKm, &profileID,
			&tx, &gain, &sens, &freq); err != nil {
			return nil, wrap("load nodes", err)
		}
		n.Role = rf.Role(role)
		out = append(out, applyProfile(n, profileID, tx, gain, sens, freq))
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("load nodes", err)
	}
	logging.L().Info("store: nodes", "project", id, "count", len(out))
	return out, nil
}

func applyProfile(n rf.Node, profileID string, tx, gain, sens, freq sql.NullFloat64) rf.Node {
	if tx.Valid {
		n.TxPowerDbm = tx.Float64
		n.AntennaGainDbi = gain.Float64
		n.RxSensitivityDbm = fallbackRxSensDbm
		if sens.Valid {
			n.RxSensitivityDbm = sens.Float64
		}
		n.FrequencyMHz = fallbackFrequencyMHz
		if freq.Valid {
			n.FrequencyMHz = freq.Float64
		}
		return n
	}
	if p, ok := rf.ProfileByID(profileID); ok {
		rangeKm := n.MaxRangeKm
		n = p.Apply(n)
		if rangeKm > 0 {
			n.MaxRangeKm = rangeKm
		}
		return n
	}
	n.TxPowerDbm = fallbackTxPowerDbm
	n.RxSensitivityDbm = fallbackRxSensDbm
	n.FrequencyMHz = fallbackFrequencyMHz
	return n
}

// LoadElevationGrid returns the stored terrain of project id.
func (s *Store) LoadElevationGrid(ctx context.Context, id int) (*ElevationGrid, error) {
	var (
		g                              ElevationGrid
		raw                            []byte
		minLat, maxLat, minLon, maxLon sql.NullFloat64
	)
	err := s.db.QueryRowContext(ctx, loadElevationSQL, id).Scan(
		&g.Rows, &g.Cols, &raw, &minLat, &maxLat, &minLon, &maxLon)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("store: elevation for project %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, wrap("load elevation", err)
	}
	g.Data, err = DecodeFloat32s(DecodeBytea(raw), g.Rows*g.Cols)
	if err != nil {
		return nil, err
	}
	if minLat.Valid {
		g.Bounds = tile.Bounds{MinLat: minLat.Float64, MaxLat: maxLat.Float64, MinLon: minLon.Float64, MaxLon: maxLon.Float64}
	}
	logging.L().Info("store: elevation grid", "project", id, "rows", g.Rows, "cols", g.Cols)
	return &g, nil
}

// DecodeBytea decodes the text hex form `\x0a0b...`. Anything else is
// returned unchanged.
func DecodeBytea(b []byte) []byte {
	if len(b) < 2 || b[0] != '\\' || b[1] != 'x' {
		return b
	}
	out := make([]byte, hex.DecodedLen(len(b)-2))
	n, err := hex.Decode(out, b[2:])
	if err != nil {
		logging.L().Warn("store: bad bytea hex", "err", err)
	}
	return out[:n]
}

// DecodeFloat32s reads n little-endian float32 values.
func DecodeFloat32s(b []byte, n int) ([]float32, error) {
	if n <= 0 || len(b) != n*4 {
		return nil, fmt.Errorf("store: %d bytes for %d floats: %w", len(b), n, ErrMalformed)
	}
	out := make([]float32, n)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out, nil
}
