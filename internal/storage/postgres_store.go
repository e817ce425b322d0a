package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/example/ride-hailing/internal/models"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func (p *PostgresStore) Close() error { return p.db.Close() }

// Migrate applies the embedded *.sql files in lexicographic order, each in its own transaction.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, name := range names {
		b, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return err
		}
		tx, err := p.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx for %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx, string(b)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %s failed: %w", name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit %s failed: %w", name, err)
		}
	}
	return nil
}

// args accumulates positional query parameters.
type args []any

func (a *args) add(v any) string {
	*a = append(*a, v)
	return "$" + strconv.Itoa(len(*a))
}

type scanner interface {
	Scan(dest ...any) error
}

const rideColumns = `id, COALESCE(user_id, ''), legs, COALESCE(captain_id, ''), pickup, destination,
	pickup_lat, pickup_lng, dest_lat, dest_lng, fare, vehicle_type, service_type, distance, duration,
	status, payment_status, COALESCE(order_id, ''), COALESCE(payment_id, ''), COALESCE(signature, ''),
	otp, is_scheduled, scheduled_time, feedback_submitted, feedback_rating, COALESCE(feedback_comment, ''),
	created_at, updated_at`

func scanRide(row scanner) (*models.Ride, error) {
	var (
		r     models.Ride
		legs  []byte
		sched sql.NullTime
	)
	err := row.Scan(&r.ID, &r.UserID, &legs, &r.CaptainID, &r.Pickup, &r.Destination,
		&r.PickupCoordinates.Lat, &r.PickupCoordinates.Lng, &r.DestinationCoordinates.Lat, &r.DestinationCoordinates.Lng,
		&r.Fare, &r.VehicleType, &r.ServiceType, &r.Distance, &r.Duration,
		&r.Status, &r.PaymentStatus, &r.OrderID, &r.PaymentID, &r.Signature,
		&r.OTP, &r.IsScheduled, &sched, &r.FeedbackSubmitted, &r.FeedbackRating, &r.FeedbackComment,
		&r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(legs) > 0 {
		if err := json.Unmarshal(legs, &r.Legs); err != nil {
			return nil, fmt.Errorf("decode legs of ride %s: %w", r.ID, err)
		}
		if len(r.Legs) == 0 {
			r.Legs = nil
		}
	}
	if sched.Valid {
		t := sched.Time
		r.ScheduledTime = &t
	}
	return &r, nil
}

func (p *PostgresStore) CreateRide(ctx context.Context, r *models.Ride) error {
	legs, err := json.Marshal(nonNilLegs(r.Legs))
	if err != nil {
		return err
	}
	var sched sql.NullTime
	if r.ScheduledTime != nil {
		sched = sql.NullTime{Time: *r.ScheduledTime, Valid: true}
	}
	_, err = p.db.ExecContext(ctx, `INSERT INTO rides (id, user_id, legs, captain_id, pickup, destination,
		pickup_lat, pickup_lng, dest_lat, dest_lng, fare, vehicle_type, service_type, distance, duration,
		status, payment_status, otp, is_scheduled, scheduled_time, created_at, updated_at)
		VALUES ($1, NULLIF($2, ''), $3, NULLIF($4, ''), $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)`,
		r.ID, r.UserID, string(legs), r.CaptainID, r.Pickup, r.Destination,
		r.PickupCoordinates.Lat, r.PickupCoordinates.Lng, r.DestinationCoordinates.Lat, r.DestinationCoordinates.Lng,
		r.Fare, string(r.VehicleType), string(r.ServiceType), r.Distance, r.Duration,
		string(r.Status), string(r.PaymentStatus), r.OTP, r.IsScheduled, sched, r.CreatedAt, r.UpdatedAt)
	return err
}

func (p *PostgresStore) GetRide(ctx context.Context, id string) (*models.Ride, error) {
	r, err := scanRide(p.db.QueryRowContext(ctx, `SELECT `+rideColumns+` FROM rides WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return r, err
}

func (p *PostgresStore) ListRides(ctx context.Context, f RideFilter) ([]*models.Ride, error) {
	var a args
	var where []string
	if f.RiderID != "" {
		where = append(where, riderClause(a.add(f.RiderID)))
	}
	if f.CaptainID != "" {
		where = append(where, "captain_id = "+a.add(f.CaptainID))
	}
	if len(f.Statuses) > 0 {
		where = append(where, "status = ANY("+a.add(pq.Array(statusStrings(f.Statuses)))+")")
	}
	if f.ServiceType != "" {
		where = append(where, "service_type = "+a.add(string(f.ServiceType)))
	}
	if f.VehicleType != "" {
		where = append(where, "vehicle_type = "+a.add(string(f.VehicleType)))
	}
	if f.Scheduled {
		where = append(where, "is_scheduled")
	}
	q := `SELECT ` + rideColumns + ` FROM rides`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at DESC"
	if f.Limit > 0 {
		q += " LIMIT " + a.add(f.Limit)
	}
	rows, err := p.db.QueryContext(ctx, q, a...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Ride
	for rows.Next() {
		r, err := scanRide(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *PostgresStore) UpdateRide(ctx context.Context, id string, cond RideCond, ch RideChange) (*models.Ride, error) {
	a := args{id}
	sets := []string{"updated_at = now()"}
	if ch.Status != "" {
		sets = append(sets, "status = "+a.add(string(ch.Status)))
	}
	if ch.CaptainID != "" {
		sets = append(sets, "captain_id = "+a.add(ch.CaptainID))
	}
	if ch.PaymentStatus != "" {
		sets = append(sets, "payment_status = "+a.add(string(ch.PaymentStatus)))
	}
	if ch.OrderID != "" {
		sets = append(sets, "order_id = "+a.add(ch.OrderID))
	}
	if ch.PaymentID != "" {
		sets = append(sets, "payment_id = "+a.add(ch.PaymentID))
	}
	if ch.Signature != "" {
		sets = append(sets, "signature = "+a.add(ch.Signature))
	}
	if ch.Feedback != nil {
		sets = append(sets, "feedback_submitted = TRUE",
			"feedback_rating = "+a.add(ch.Feedback.Rating),
			"feedback_comment = "+a.add(ch.Feedback.Comment))
	}

	where := []string{"id = $1"}
	if len(cond.Statuses) > 0 {
		where = append(where, "status = ANY("+a.add(pq.Array(statusStrings(cond.Statuses)))+")")
	}
	if cond.CaptainID != "" {
		where = append(where, "captain_id = "+a.add(cond.CaptainID))
	}
	if cond.RiderID != "" {
		where = append(where, riderClause(a.add(cond.RiderID)))
	}
	if cond.PaymentPending {
		where = append(where, "payment_status <> 'completed'")
	}
	if cond.Unassigned {
		where = append(where, "captain_id IS NULL")
	}
	if cond.Scheduled {
		where = append(where, "is_scheduled")
	}
	if cond.FeedbackOpen {
		where = append(where, "NOT feedback_submitted")
	}

	q := "UPDATE rides SET " + strings.Join(sets, ", ") + " WHERE " + strings.Join(where, " AND ") + " RETURNING " + rideColumns

	var r *models.Ride
	var err error
	if ch.CreditDay.IsZero() && ch.Feedback == nil {
		r, err = scanRide(p.db.QueryRowContext(ctx, q, a...))
	} else {
		err = p.inTx(ctx, func(tx *sql.Tx) error {
			var err error
			if r, err = scanRide(tx.QueryRowContext(ctx, q, a...)); err != nil {
				return err
			}
			return creditParticipants(ctx, tx, r, ch)
		})
	}
	if errors.Is(err, sql.ErrNoRows) {
		return nil, p.missOrConflict(ctx, "rides", id)
	}
	return r, err
}

// creditParticipants applies the captain and rider side effects of ch
// inside the ride update's transaction.
func creditParticipants(ctx context.Context, tx *sql.Tx, r *models.Ride, ch RideChange) error {
	if !ch.CreditDay.IsZero() {
		if r.CaptainID != "" {
			res, err := tx.ExecContext(ctx, `UPDATE captains SET total_rides = total_rides + 1 WHERE id = $1`, r.CaptainID)
			if err != nil {
				return err
			}
			if n, err := res.RowsAffected(); err != nil {
				return err
			} else if n == 1 {
				_, err = tx.ExecContext(ctx, `INSERT INTO captain_daily_stats (captain_id, day, earnings, trips_completed)
					VALUES ($1, $2, $3, 1)
					ON CONFLICT (captain_id, day) DO UPDATE
					SET earnings = captain_daily_stats.earnings + EXCLUDED.earnings,
					    trips_completed = captain_daily_stats.trips_completed + 1`,
					r.CaptainID, dayString(ch.CreditDay), r.Fare)
				if err != nil {
					return err
				}
				if err := trimDailyStats(ctx, tx, r.CaptainID); err != nil {
					return err
				}
			}
		}
		if riders := r.Riders(); len(riders) > 0 {
			if _, err := tx.ExecContext(ctx, `UPDATE users SET total_rides = total_rides + 1 WHERE id = ANY($1)`,
				pq.Array(riders)); err != nil {
				return err
			}
		}
	}
	if ch.Feedback != nil && r.CaptainID != "" {
		_, err := tx.ExecContext(ctx, `UPDATE captains
			SET rating = (rating * rating_count + $2) / (rating_count + 1), rating_count = rating_count + 1
			WHERE id = $1`, r.CaptainID, ch.Feedback.Rating)
		if err != nil {
			return err
		}
	}
	return nil
}

func (p *PostgresStore) AppendLeg(ctx context.Context, rideID string, leg models.Leg, maxLegs int) (*models.Ride, error) {
	b, err := json.Marshal([]models.Leg{leg})
	if err != nil {
		return nil, err
	}
	r, err := scanRide(p.db.QueryRowContext(ctx, `UPDATE rides
		SET legs = legs || $2::jsonb, fare = fare + $3, updated_at = now()
		WHERE id = $1 AND status = 'pending' AND service_type = 'taxiPool'
		  AND ($4 <= 0 OR jsonb_array_length(legs) < $4)
		RETURNING `+rideColumns, rideID, string(b), leg.FareShare, maxLegs))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, p.missOrConflict(ctx, "rides", rideID)
	}
	return r, err
}

func (p *PostgresStore) missOrConflict(ctx context.Context, table, id string) error {
	var one int
	err := p.db.QueryRowContext(ctx, `SELECT 1 FROM `+table+` WHERE id = $1`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return ErrConflict
}

const captainColumns = `id, firstname, lastname, email, vehicle_color, vehicle_plate, vehicle_capacity, vehicle_type,
	lat, lng, is_online, is_active, rating, rating_count, total_rides, created_at`

func scanCaptain(row scanner) (*models.Captain, error) {
	var (
		c        models.Captain
		lat, lng sql.NullFloat64
	)
	err := row.Scan(&c.ID, &c.Fullname.Firstname, &c.Fullname.Lastname, &c.Email,
		&c.Vehicle.Color, &c.Vehicle.Plate, &c.Vehicle.Capacity, &c.Vehicle.VehicleType,
		&lat, &lng, &c.IsOnline, &c.IsActive, &c.Rating, &c.RatingCount, &c.TotalRides, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	if lat.Valid && lng.Valid {
		c.Location = &models.Coord{Lat: lat.Float64, Lng: lng.Float64}
	}
	return &c, nil
}

func (p *PostgresStore) GetCaptain(ctx context.Context, id string) (*models.Captain, error) {
	c, err := scanCaptain(p.db.QueryRowContext(ctx, `SELECT `+captainColumns+` FROM captains WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := p.loadDailyStats(ctx, []*models.Captain{c}); err != nil {
		return nil, err
	}
	return c, nil
}

func (p *PostgresStore) ListCaptains(ctx context.Context, f CaptainFilter) ([]*models.Captain, error) {
	var a args
	var where []string
	if len(f.IDs) > 0 {
		where = append(where, "id = ANY("+a.add(pq.Array(f.IDs))+")")
	}
	if f.VehicleType != "" {
		where = append(where, "vehicle_type = "+a.add(string(f.VehicleType)))
	}
	if f.OnlineOnly {
		where = append(where, "is_online")
	}
	if f.ActiveOnly {
		where = append(where, "is_active")
	}
	q := `SELECT ` + captainColumns + ` FROM captains`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY id"
	rows, err := p.db.QueryContext(ctx, q, a...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Captain
	for rows.Next() {
		c, err := scanCaptain(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := p.loadDailyStats(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *PostgresStore) loadDailyStats(ctx context.Context, captains []*models.Captain) error {
	if len(captains) == 0 {
		return nil
	}
	byID := make(map[string]*models.Captain, len(captains))
	ids := make([]string, 0, len(captains))
	for _, c := range captains {
		byID[c.ID] = c
		ids = append(ids, c.ID)
	}
	rows, err := p.db.QueryContext(ctx, `SELECT captain_id, day, earnings, hours_online, trips_completed
		FROM captain_daily_stats WHERE captain_id = ANY($1) ORDER BY captain_id, day DESC`, pq.Array(ids))
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id string
			s  models.DailyStat
		)
		if err := rows.Scan(&id, &s.Date, &s.Earnings, &s.HoursOnline, &s.TripsCompleted); err != nil {
			return err
		}
		if c := byID[id]; c != nil && len(c.DailyStats) < models.MaxDailyStats {
			c.DailyStats = append(c.DailyStats, s)
		}
	}
	return rows.Err()
}

func (p *PostgresStore) SetCaptainOnline(ctx context.Context, id string, online bool) (*models.Captain, error) {
	if !online {
		return p.execCaptain(ctx, id, `UPDATE captains SET is_online = FALSE WHERE id = $1`, id)
	}
	names, vehicles := categoryPairs()
	res, err := p.db.ExecContext(ctx, `UPDATE captains c SET is_online = TRUE
		WHERE c.id = $1 AND c.is_active AND (
			NOT EXISTS (SELECT 1 FROM unnest($2::text[], $3::text[]) AS cv(name, vehicle)
				WHERE cv.vehicle = c.vehicle_type)
			OR EXISTS (SELECT 1 FROM unnest($2::text[], $3::text[]) AS cv(name, vehicle)
				LEFT JOIN services s ON s.name = cv.name
				WHERE cv.vehicle = c.vehicle_type AND COALESCE(s.is_active, TRUE)))`,
		id, pq.Array(names), pq.Array(vehicles))
	if err != nil {
		return nil, err
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, err
	} else if n == 1 {
		return p.GetCaptain(ctx, id)
	}
	// Nothing written; report why.
	c, err := p.GetCaptain(ctx, id)
	if err != nil {
		return nil, err
	}
	if !c.IsActive {
		return nil, ErrInactive
	}
	return nil, ErrServiceDisabled
}

// categoryPairs lists every category with the vehicle class serving it.
func categoryPairs() (names, vehicles []string) {
	for _, name := range models.Categories {
		v, _ := models.CategoryVehicle(name)
		names = append(names, name)
		vehicles = append(vehicles, string(v))
	}
	return names, vehicles
}

func (p *PostgresStore) ToggleCaptainActive(ctx context.Context, id string) (*models.Captain, error) {
	return p.execCaptain(ctx, id, `UPDATE captains
		SET is_active = NOT is_active, is_online = CASE WHEN is_active THEN FALSE ELSE is_online END
		WHERE id = $1`, id)
}

func (p *PostgresStore) ForceOffline(ctx context.Context, vehicles []models.VehicleType) ([]string, error) {
	vs := make([]string, len(vehicles))
	for i, v := range vehicles {
		vs[i] = string(v)
	}
	rows, err := p.db.QueryContext(ctx, `UPDATE captains SET is_online = FALSE
		WHERE is_online AND vehicle_type = ANY($1) RETURNING id`, pq.Array(vs))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, rows.Err()
}

func (p *PostgresStore) UpdateCaptainLocation(ctx context.Context, id string, loc models.Coord) error {
	res, err := p.db.ExecContext(ctx, `UPDATE captains SET lat = $2, lng = $3 WHERE id = $1`, id, loc.Lat, loc.Lng)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (p *PostgresStore) AddHoursOnline(ctx context.Context, id string, day time.Time, hours float64) (*models.Captain, error) {
	err := p.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `INSERT INTO captain_daily_stats (captain_id, day, hours_online)
			SELECT id, $2::date, $3::double precision FROM captains WHERE id = $1
			ON CONFLICT (captain_id, day) DO UPDATE
			SET hours_online = captain_daily_stats.hours_online + EXCLUDED.hours_online`, id, dayString(day), hours)
		if err != nil {
			return err
		}
		if err := requireRow(res); err != nil {
			return err
		}
		return trimDailyStats(ctx, tx, id)
	})
	if err != nil {
		return nil, err
	}
	return p.GetCaptain(ctx, id)
}

func (p *PostgresStore) execCaptain(ctx context.Context, id, q string, params ...any) (*models.Captain, error) {
	res, err := p.db.ExecContext(ctx, q, params...)
	if err != nil {
		return nil, err
	}
	if err := requireRow(res); err != nil {
		return nil, err
	}
	return p.GetCaptain(ctx, id)
}

func trimDailyStats(ctx context.Context, tx *sql.Tx, id string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM captain_daily_stats
		WHERE captain_id = $1 AND day NOT IN (
			SELECT day FROM captain_daily_stats WHERE captain_id = $1 ORDER BY day DESC LIMIT $2)`,
		id, models.MaxDailyStats)
	return err
}

const userColumns = `id, firstname, lastname, email, COALESCE(phone_number, ''), is_active, total_rides, created_at`

func scanUser(row scanner) (*models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.Fullname.Firstname, &u.Fullname.Lastname, &u.Email, &u.PhoneNumber,
		&u.IsActive, &u.TotalRides, &u.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (p *PostgresStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	u, err := scanUser(p.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return u, err
}

func (p *PostgresStore) ListUsers(ctx context.Context) ([]*models.User, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (p *PostgresStore) ToggleUserActive(ctx context.Context, id string) (*models.User, error) {
	u, err := scanUser(p.db.QueryRowContext(ctx, `UPDATE users SET is_active = NOT is_active WHERE id = $1 RETURNING `+userColumns, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return u, err
}

func (p *PostgresStore) ListServices(ctx context.Context) ([]models.Service, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT name, is_active FROM services`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	active := make(map[string]bool)
	for rows.Next() {
		var s models.Service
		if err := rows.Scan(&s.Name, &s.IsActive); err != nil {
			return nil, err
		}
		active[s.Name] = s.IsActive
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	out := make([]models.Service, 0, len(models.Categories))
	for _, name := range models.Categories {
		isActive, ok := active[name]
		if !ok {
			isActive = true
		}
		out = append(out, models.Service{Name: name, IsActive: isActive})
	}
	return out, nil
}

func (p *PostgresStore) SetServiceActive(ctx context.Context, name string, active bool) (models.Service, error) {
	var s models.Service
	err := p.db.QueryRowContext(ctx, `INSERT INTO services (name, is_active) VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET is_active = EXCLUDED.is_active
		RETURNING name, is_active`, name, active).Scan(&s.Name, &s.IsActive)
	return s, err
}

func (p *PostgresStore) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// riderClause matches the solo rider or any pooled leg's rider.
func riderClause(ph string) string {
	return "(user_id = " + ph + " OR legs @> jsonb_build_array(jsonb_build_object('userId', " + ph + "::text)))"
}

func statusStrings(ss []models.RideStatus) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = string(s)
	}
	return out
}

func nonNilLegs(legs []models.Leg) []models.Leg {
	if legs == nil {
		return []models.Leg{}
	}
	return legs
}

func dayString(t time.Time) string { return t.Format("2006-01-02") }
