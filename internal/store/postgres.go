package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"routeplan/internal/geo"
	"routeplan/internal/model"
)

type Postgres struct {
	db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	p := &Postgres{db: db}
	if err := p.migrate(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Postgres) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS orders (
			id TEXT PRIMARY KEY,
			lat DOUBLE PRECISION, lng DOUBLE PRECISION,
			window_start TIMESTAMPTZ, window_end TIMESTAMPTZ,
			priority TEXT NOT NULL DEFAULT 'normal',
			status TEXT NOT NULL DEFAULT 'pending',
			parking_required BOOLEAN NOT NULL DEFAULT FALSE,
			route_id TEXT, seq INT NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS drivers (
			id TEXT PRIMARY KEY,
			name TEXT, status TEXT NOT NULL DEFAULT 'available',
			lat DOUBLE PRECISION, lng DOUBLE PRECISION,
			current_load INT NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS sites (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			name TEXT, lat DOUBLE PRECISION NOT NULL, lng DOUBLE PRECISION NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS routes (
			id TEXT PRIMARY KEY,
			batch_id TEXT, driver_id TEXT, name TEXT, color TEXT,
			status TEXT NOT NULL DEFAULT 'planned',
			waypoints JSONB NOT NULL DEFAULT '[]',
			distance_km DOUBLE PRECISION NOT NULL DEFAULT 0,
			duration_min DOUBLE PRECISION NOT NULL DEFAULT 0,
			used_road_network BOOLEAN NOT NULL DEFAULT FALSE,
			method TEXT, improvement_pct DOUBLE PRECISION NOT NULL DEFAULT 0,
			small BOOLEAN NOT NULL DEFAULT FALSE,
			start_at TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS plan_summaries (
			batch_id TEXT PRIMARY KEY,
			summary JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS drift_suggestions (
			id TEXT PRIMARY KEY,
			order_id TEXT NOT NULL, route_id TEXT NOT NULL,
			insert_index INT NOT NULL,
			added_distance_km DOUBLE PRECISION NOT NULL,
			status TEXT NOT NULL DEFAULT 'proposed'
		)`,
		`CREATE TABLE IF NOT EXISTS subscriptions (
			id TEXT PRIMARY KEY,
			url TEXT NOT NULL, events JSONB NOT NULL, secret TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS webhook_deliveries (
			id TEXT PRIMARY KEY,
			subscription_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			url TEXT NOT NULL, secret TEXT,
			payload JSONB NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			attempts INT NOT NULL DEFAULT 0,
			next_attempt_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			last_error TEXT, response_code INT, latency_ms INT
		)`,
	}
	for _, s := range stmts {
		if _, err := p.db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func nullPoint(pt *geo.Point) (lat, lng any) {
	if pt == nil {
		return nil, nil
	}
	return pt.Lat, pt.Lon
}

func scanPoint(lat, lng sql.NullFloat64) *geo.Point {
	if !lat.Valid || !lng.Valid {
		return nil
	}
	return &geo.Point{Lat: lat.Float64, Lon: lng.Float64}
}

func (p *Postgres) CreateOrders(ctx context.Context, orders []model.Order) (int, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()
	created := 0
	for _, o := range orders {
		if o.ID == "" {
			o.ID = uuid.New().String()
		}
		if o.Status == "" {
			o.Status = model.OrderPending
		}
		if o.Priority == "" {
			o.Priority = model.PriorityNormal
		}
		lat, lng := nullPoint(o.Location)
		var ws, we any
		if o.Window != nil {
			if o.Window.Start != nil {
				ws = *o.Window.Start
			}
			if o.Window.End != nil {
				we = *o.Window.End
			}
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO orders (id, lat, lng, window_start, window_end, priority, status, parking_required)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
			ON CONFLICT (id) DO UPDATE SET lat=$2, lng=$3, window_start=$4, window_end=$5, priority=$6, status=$7, parking_required=$8`,
			o.ID, lat, lng, ws, we, string(o.Priority), o.Status, o.ParkingRequired)
		if err != nil {
			return 0, err
		}
		created++
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return created, nil
}

func (p *Postgres) scanOrders(rows *sql.Rows) ([]model.Order, error) {
	out := []model.Order{}
	for rows.Next() {
		var o model.Order
		var lat, lng sql.NullFloat64
		var ws, we sql.NullTime
		var prio string
		var routeID sql.NullString
		if err := rows.Scan(&o.ID, &lat, &lng, &ws, &we, &prio, &o.Status, &o.ParkingRequired, &routeID, &o.Seq); err != nil {
			return nil, err
		}
		o.Location = scanPoint(lat, lng)
		o.Priority = model.Priority(prio)
		if ws.Valid || we.Valid {
			tw := &model.TimeWindow{}
			if ws.Valid {
				t := ws.Time
				tw.Start = &t
			}
			if we.Valid {
				t := we.Time
				tw.End = &t
			}
			o.Window = tw
		}
		o.RouteID = routeID.String
		out = append(out, o)
	}
	return out, rows.Err()
}

const orderCols = `id, lat, lng, window_start, window_end, priority, status, parking_required, route_id, seq`

func (p *Postgres) ListOrders(ctx context.Context, status string) ([]model.Order, error) {
	var rows *sql.Rows
	var err error
	if status != "" {
		rows, err = p.db.QueryContext(ctx, `SELECT `+orderCols+` FROM orders WHERE status=$1 ORDER BY id`, status)
	} else {
		rows, err = p.db.QueryContext(ctx, `SELECT `+orderCols+` FROM orders ORDER BY id`)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return p.scanOrders(rows)
}

func (p *Postgres) GetOrder(ctx context.Context, id string) (model.Order, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+orderCols+` FROM orders WHERE id=$1`, id)
	if err != nil {
		return model.Order{}, err
	}
	defer rows.Close()
	out, err := p.scanOrders(rows)
	if err != nil {
		return model.Order{}, err
	}
	if len(out) == 0 {
		return model.Order{}, ErrNotFound
	}
	return out[0], nil
}

func (p *Postgres) UpdateOrderStatus(ctx context.Context, id, status string) error {
	var res sql.Result
	var err error
	if status == model.OrderPending {
		res, err = p.db.ExecContext(ctx, `UPDATE orders SET status=$2, route_id=NULL, seq=0 WHERE id=$1`, id, status)
	} else {
		res, err = p.db.ExecContext(ctx, `UPDATE orders SET status=$2 WHERE id=$1`, id, status)
	}
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) CreateDrivers(ctx context.Context, drivers []model.Driver) (int, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()
	created := 0
	for _, d := range drivers {
		if d.ID == "" {
			d.ID = uuid.New().String()
		}
		if d.Status == "" {
			d.Status = model.DriverAvailable
		}
		lat, lng := nullPoint(d.Location)
		_, err = tx.ExecContext(ctx, `INSERT INTO drivers (id, name, status, lat, lng, current_load)
			VALUES ($1,$2,$3,$4,$5,$6)
			ON CONFLICT (id) DO UPDATE SET name=$2, status=$3, lat=$4, lng=$5, current_load=$6`,
			d.ID, d.Name, d.Status, lat, lng, d.CurrentLoad)
		if err != nil {
			return 0, err
		}
		created++
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return created, nil
}

func (p *Postgres) ListDrivers(ctx context.Context, status string) ([]model.Driver, error) {
	var rows *sql.Rows
	var err error
	if status != "" {
		rows, err = p.db.QueryContext(ctx, `SELECT id, name, status, lat, lng, current_load FROM drivers WHERE status=$1 ORDER BY id`, status)
	} else {
		rows, err = p.db.QueryContext(ctx, `SELECT id, name, status, lat, lng, current_load FROM drivers ORDER BY id`)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Driver{}
	for rows.Next() {
		var d model.Driver
		var name sql.NullString
		var lat, lng sql.NullFloat64
		if err := rows.Scan(&d.ID, &name, &d.Status, &lat, &lng, &d.CurrentLoad); err != nil {
			return nil, err
		}
		d.Name = name.String
		d.Location = scanPoint(lat, lng)
		out = append(out, d)
	}
	return out, rows.Err()
}

func (p *Postgres) UpdateDriverStatus(ctx context.Context, id, status string) error {
	res, err := p.db.ExecContext(ctx, `UPDATE drivers SET status=$2 WHERE id=$1`, id, status)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) createSite(ctx context.Context, kind string, pt model.NamedPoint) (model.NamedPoint, error) {
	if pt.ID == "" {
		pt.ID = uuid.New().String()
	}
	_, err := p.db.ExecContext(ctx, `INSERT INTO sites (id, kind, name, lat, lng) VALUES ($1,$2,$3,$4,$5)`,
		pt.ID, kind, pt.Name, pt.Location.Lat, pt.Location.Lon)
	if err != nil {
		return model.NamedPoint{}, err
	}
	return pt, nil
}

func (p *Postgres) listSites(ctx context.Context, kind string) ([]model.NamedPoint, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id, name, lat, lng FROM sites WHERE kind=$1 ORDER BY id`, kind)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.NamedPoint{}
	for rows.Next() {
		var np model.NamedPoint
		var name sql.NullString
		if err := rows.Scan(&np.ID, &name, &np.Location.Lat, &np.Location.Lon); err != nil {
			return nil, err
		}
		np.Name = name.String
		out = append(out, np)
	}
	return out, rows.Err()
}

func (p *Postgres) CreateDepot(ctx context.Context, pt model.NamedPoint) (model.NamedPoint, error) {
	return p.createSite(ctx, "depot", pt)
}

func (p *Postgres) CreateParking(ctx context.Context, pt model.NamedPoint) (model.NamedPoint, error) {
	return p.createSite(ctx, "parking", pt)
}

func (p *Postgres) ListDepots(ctx context.Context) ([]model.NamedPoint, error) {
	return p.listSites(ctx, "depot")
}

func (p *Postgres) ListParking(ctx context.Context) ([]model.NamedPoint, error) {
	return p.listSites(ctx, "parking")
}

// CommitPlan applies the whole batch in one transaction.
func (p *Postgres) CommitPlan(ctx context.Context, batch PlanBatch) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, rt := range batch.Routes {
		wps, err := json.Marshal(rt.Waypoints)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO routes
			(id, batch_id, driver_id, name, color, status, waypoints, distance_km, duration_min, used_road_network, method, improvement_pct, small, start_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
			rt.ID, rt.BatchID, rt.DriverID, rt.Name, rt.Color, rt.Status, wps,
			rt.DistanceKm, rt.DurationMin, rt.UsedRoadNetwork, rt.Method, rt.ImprovementPct, rt.Small, rt.StartAt)
		if err != nil {
			return err
		}
	}
	for orderID, slot := range batch.OrderRoutes {
		_, err = tx.ExecContext(ctx, `UPDATE orders SET status=$2, route_id=$3, seq=$4 WHERE id=$1`,
			orderID, model.OrderAssigned, slot.RouteID, slot.Seq)
		if err != nil {
			return err
		}
	}
	for _, driverID := range batch.DriverIDs {
		_, err = tx.ExecContext(ctx, `UPDATE drivers SET status=$2 WHERE id=$1`, driverID, model.DriverOnRoute)
		if err != nil {
			return err
		}
	}
	summary, err := json.Marshal(batch.Summary)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO plan_summaries (batch_id, summary) VALUES ($1,$2)`, batch.ID, summary)
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (p *Postgres) GetPlanSummary(ctx context.Context, batchID string) (model.PlanSummary, error) {
	var raw []byte
	err := p.db.QueryRowContext(ctx, `SELECT summary FROM plan_summaries WHERE batch_id=$1`, batchID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return model.PlanSummary{}, ErrNotFound
	}
	if err != nil {
		return model.PlanSummary{}, err
	}
	var s model.PlanSummary
	if err := json.Unmarshal(raw, &s); err != nil {
		return model.PlanSummary{}, err
	}
	return s, nil
}

const routeCols = `id, batch_id, driver_id, name, color, status, waypoints, distance_km, duration_min, used_road_network, method, improvement_pct, small, start_at`

func scanRoute(scan func(dest ...any) error) (model.Route, error) {
	var r model.Route
	var batchID, driverID, name, color, method sql.NullString
	var wps []byte
	var startAt sql.NullTime
	err := scan(&r.ID, &batchID, &driverID, &name, &color, &r.Status, &wps,
		&r.DistanceKm, &r.DurationMin, &r.UsedRoadNetwork, &method, &r.ImprovementPct, &r.Small, &startAt)
	if err != nil {
		return r, err
	}
	r.BatchID = batchID.String
	r.DriverID = driverID.String
	r.Name = name.String
	r.Color = color.String
	r.Method = method.String
	if startAt.Valid {
		r.StartAt = startAt.Time
	}
	if err := json.Unmarshal(wps, &r.Waypoints); err != nil {
		return r, err
	}
	return r, nil
}

func (p *Postgres) GetRoute(ctx context.Context, id string) (model.Route, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+routeCols+` FROM routes WHERE id=$1`, id)
	r, err := scanRoute(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Route{}, ErrNotFound
	}
	return r, err
}

func (p *Postgres) listRoutes(ctx context.Context, where string, args ...any) ([]model.Route, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+routeCols+` FROM routes `+where+` ORDER BY id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Route{}
	for rows.Next() {
		r, err := scanRoute(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *Postgres) ListRoutes(ctx context.Context, status string) ([]model.Route, error) {
	if status != "" {
		return p.listRoutes(ctx, `WHERE status=$1`, status)
	}
	return p.listRoutes(ctx, ``)
}

func (p *Postgres) ListActiveRoutes(ctx context.Context) ([]model.Route, error) {
	return p.listRoutes(ctx, `WHERE status IN ($1,$2)`, model.RoutePlanned, model.RouteInTransit)
}

func (p *Postgres) UpdateRouteStatus(ctx context.Context, id, status string) (model.Route, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Route{}, err
	}
	defer func() { _ = tx.Rollback() }()
	row := tx.QueryRowContext(ctx, `SELECT `+routeCols+` FROM routes WHERE id=$1 FOR UPDATE`, id)
	r, err := scanRoute(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Route{}, ErrNotFound
	}
	if err != nil {
		return model.Route{}, err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE routes SET status=$2 WHERE id=$1`, id, status); err != nil {
		return model.Route{}, err
	}
	r.Status = status
	if status == model.RouteCompleted && r.DriverID != "" {
		_, err = tx.ExecContext(ctx, `UPDATE drivers SET status=$2 WHERE id=$1 AND status=$3`,
			r.DriverID, model.DriverAvailable, model.DriverOnRoute)
		if err != nil {
			return model.Route{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return model.Route{}, err
	}
	return r, nil
}

// InsertWaypoint locks the route row so concurrent insertions into the same
// route serialize on the database.
func (p *Postgres) InsertWaypoint(ctx context.Context, routeID string, index int, wp model.Waypoint, addedKm float64) (model.Route, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Route{}, err
	}
	defer func() { _ = tx.Rollback() }()
	row := tx.QueryRowContext(ctx, `SELECT `+routeCols+` FROM routes WHERE id=$1 FOR UPDATE`, routeID)
	r, err := scanRoute(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Route{}, ErrNotFound
	}
	if err != nil {
		return model.Route{}, err
	}
	if r.Status == model.RouteCompleted {
		return model.Route{}, ErrConflict
	}
	if index < 1 || index > len(r.Waypoints) {
		return model.Route{}, ErrConflict
	}
	wps := r.CopyWaypoints()
	wps = append(wps[:index], append([]model.Waypoint{wp}, wps[index:]...)...)
	for i := range wps {
		wps[i].Seq = i
	}
	raw, err := json.Marshal(wps)
	if err != nil {
		return model.Route{}, err
	}
	r.Waypoints = wps
	r.DistanceKm += addedKm
	_, err = tx.ExecContext(ctx, `UPDATE routes SET waypoints=$2, distance_km=$3 WHERE id=$1`, routeID, raw, r.DistanceKm)
	if err != nil {
		return model.Route{}, err
	}
	// orders carry a 1-based delivery sequence, not the waypoint index;
	// renumber every delivery on the route so stops after the insertion
	// point shift too
	seq := 0
	for _, w := range wps {
		if w.Kind != model.WaypointDelivery {
			continue
		}
		seq++
		if w.RefID == wp.RefID && wp.Kind == model.WaypointDelivery {
			_, err = tx.ExecContext(ctx, `UPDATE orders SET status=$2, route_id=$3, seq=$4 WHERE id=$1`,
				w.RefID, model.OrderAssigned, routeID, seq)
		} else {
			_, err = tx.ExecContext(ctx, `UPDATE orders SET seq=$2 WHERE id=$1 AND route_id=$3`,
				w.RefID, seq, routeID)
		}
		if err != nil {
			return model.Route{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return model.Route{}, err
	}
	return r, nil
}

func (p *Postgres) CreateDriftSuggestions(ctx context.Context, sugg []model.DriftSuggestion) ([]model.DriftSuggestion, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()
	out := make([]model.DriftSuggestion, 0, len(sugg))
	for _, s := range sugg {
		if s.ID == "" {
			s.ID = uuid.New().String()
		}
		if s.Status == "" {
			s.Status = model.DriftProposed
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO drift_suggestions (id, order_id, route_id, insert_index, added_distance_km, status)
			VALUES ($1,$2,$3,$4,$5,$6)`,
			s.ID, s.OrderID, s.RouteID, s.InsertIndex, s.AddedDistanceKm, s.Status)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *Postgres) GetDriftSuggestion(ctx context.Context, id string) (model.DriftSuggestion, error) {
	var s model.DriftSuggestion
	err := p.db.QueryRowContext(ctx, `SELECT id, order_id, route_id, insert_index, added_distance_km, status FROM drift_suggestions WHERE id=$1`, id).
		Scan(&s.ID, &s.OrderID, &s.RouteID, &s.InsertIndex, &s.AddedDistanceKm, &s.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return model.DriftSuggestion{}, ErrNotFound
	}
	return s, err
}

func (p *Postgres) ResolveDriftSuggestion(ctx context.Context, id, status string) (model.DriftSuggestion, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return model.DriftSuggestion{}, err
	}
	defer func() { _ = tx.Rollback() }()
	var s model.DriftSuggestion
	err = tx.QueryRowContext(ctx, `SELECT id, order_id, route_id, insert_index, added_distance_km, status FROM drift_suggestions WHERE id=$1 FOR UPDATE`, id).
		Scan(&s.ID, &s.OrderID, &s.RouteID, &s.InsertIndex, &s.AddedDistanceKm, &s.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return model.DriftSuggestion{}, ErrNotFound
	}
	if err != nil {
		return model.DriftSuggestion{}, err
	}
	if s.Status != model.DriftProposed {
		return model.DriftSuggestion{}, ErrConflict
	}
	if _, err := tx.ExecContext(ctx, `UPDATE drift_suggestions SET status=$2 WHERE id=$1`, id, status); err != nil {
		return model.DriftSuggestion{}, err
	}
	if err := tx.Commit(); err != nil {
		return model.DriftSuggestion{}, err
	}
	s.Status = status
	return s, nil
}

func (p *Postgres) CreateSubscription(ctx context.Context, sub model.Subscription) (model.Subscription, error) {
	if sub.ID == "" {
		sub.ID = uuid.New().String()
	}
	events, err := json.Marshal(sub.Events)
	if err != nil {
		return model.Subscription{}, err
	}
	_, err = p.db.ExecContext(ctx, `INSERT INTO subscriptions (id, url, events, secret) VALUES ($1,$2,$3,$4)`,
		sub.ID, sub.URL, events, sub.Secret)
	if err != nil {
		return model.Subscription{}, err
	}
	return sub, nil
}

func (p *Postgres) ListSubscriptions(ctx context.Context) ([]model.Subscription, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id, url, events, secret FROM subscriptions ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Subscription{}
	for rows.Next() {
		var s model.Subscription
		var events []byte
		var secret sql.NullString
		if err := rows.Scan(&s.ID, &s.URL, &events, &secret); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(events, &s.Events); err != nil {
			return nil, err
		}
		s.Secret = secret.String
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *Postgres) DeleteSubscription(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) GetSubscriptionsForEvent(ctx context.Context, eventType string) ([]model.Subscription, error) {
	subs, err := p.ListSubscriptions(ctx)
	if err != nil {
		return nil, err
	}
	out := []model.Subscription{}
	for _, s := range subs {
		for _, e := range s.Events {
			if e == eventType || e == "*" {
				out = append(out, s)
				break
			}
		}
	}
	return out, nil
}

func (p *Postgres) EnqueueWebhook(ctx context.Context, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
	id := uuid.New().String()
	_, err := p.db.ExecContext(ctx, `INSERT INTO webhook_deliveries (id, subscription_id, event_type, url, secret, payload)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		id, subscriptionID, eventType, url, secret, payload)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (p *Postgres) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.db.QueryContext(ctx, `SELECT id, subscription_id, event_type, url, secret, payload, status, attempts
		FROM webhook_deliveries
		WHERE status IN ('pending','retry') AND next_attempt_at <= now()
		ORDER BY next_attempt_at LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []WebhookDelivery{}
	for rows.Next() {
		var d WebhookDelivery
		var secret sql.NullString
		if err := rows.Scan(&d.ID, &d.SubscriptionID, &d.EventType, &d.URL, &secret, &d.Payload, &d.Status, &d.Attempts); err != nil {
			return nil, err
		}
		d.Secret = secret.String
		out = append(out, d)
	}
	return out, rows.Err()
}

func (p *Postgres) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	if success {
		_, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries
			SET status='delivered', attempts=attempts+1, response_code=$2, latency_ms=$3 WHERE id=$1`,
			id, responseCode, latencyMs)
		return err
	}
	next := time.Now().Add(time.Minute)
	if nextAttemptAt != nil {
		next = *nextAttemptAt
	}
	_, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries
		SET status='retry', attempts=attempts+1, next_attempt_at=$2, last_error=$3, response_code=$4, latency_ms=$5 WHERE id=$1`,
		id, next, lastError, responseCode, latencyMs)
	return err
}

func (p *Postgres) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	_, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries
		SET status='failed', last_error=$2, response_code=$3, latency_ms=$4 WHERE id=$1`,
		id, lastError, responseCode, latencyMs)
	return err
}
