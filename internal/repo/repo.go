// Package repo is the demo CRM server's storage layer.
package repo

import (
	"context"
	"database/sql"
	"errors"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// Customer is one customer row.
type Customer struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Stage       string `json:"stage"`
	Salesperson string `json:"salesperson,omitempty"`
	CreatedBy   string `json:"created_by,omitempty"`
	Address     string `json:"address,omitempty"`
	Phone       string `json:"phone,omitempty"`
	Email       string `json:"email,omitempty"`
	StageSince  string `json:"stage_since,omitempty"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

// Job is one job row.
type Job struct {
	ID          string  `json:"id"`
	CustomerID  string  `json:"customer_id"`
	Reference   string  `json:"reference,omitempty"`
	Stage       string  `json:"stage"`
	JobType     string  `json:"job_type,omitempty"`
	Value       float64 `json:"value,omitempty"`
	MeasureDate string  `json:"measure_date,omitempty"`
	StageSince  string  `json:"stage_since,omitempty"`
	CreatedAt   string  `json:"created_at"`
	UpdatedAt   string  `json:"updated_at"`
}

// Project is one project row.
type Project struct {
	ID            string `json:"id"`
	CustomerID    string `json:"customer_id"`
	Name          string `json:"name"`
	JobType       string `json:"job_type,omitempty"`
	Stage         string `json:"stage"`
	ScheduledDate string `json:"scheduled_date,omitempty"`
	Notes         string `json:"notes,omitempty"`
	StageSince    string `json:"stage_since,omitempty"`
	CreatedAt     string `json:"created_at"`
	UpdatedAt     string `json:"updated_at"`
}

// Quote is one draft quote row.
type Quote struct {
	ID        string `json:"id"`
	JobID     string `json:"job_id"`
	Status    string `json:"status"`
	CreatedBy string `json:"created_by,omitempty"`
	CreatedAt string `json:"created_at"`
}

// Invoice is one draft invoice row.
type Invoice struct {
	ID        string  `json:"id"`
	EntityID  string  `json:"entity_id"`
	Reference string  `json:"reference,omitempty"`
	Amount    float64 `json:"amount,omitempty"`
	Status    string  `json:"status"`
	CreatedBy string  `json:"created_by,omitempty"`
	CreatedAt string  `json:"created_at"`
}

// Event is one server-side audit row.
type Event struct {
	ID          int64  `json:"id"`
	TS          string `json:"ts"`
	Type        string `json:"type"`
	EntityKind  string `json:"entity_kind"`
	EntityID    string `json:"entity_id,omitempty"`
	ActorID     string `json:"actor_id,omitempty"`
	PayloadJSON string `json:"payload_json"`
}

const customerCols = `id,name,stage,COALESCE(salesperson,''),COALESCE(created_by,''),COALESCE(address,''),COALESCE(phone,''),COALESCE(email,''),COALESCE(stage_since,''),created_at,updated_at`

func scanCustomer(row interface{ Scan(...any) error }) (Customer, error) {
	var c Customer
	err := row.Scan(&c.ID, &c.Name, &c.Stage, &c.Salesperson, &c.CreatedBy, &c.Address, &c.Phone, &c.Email, &c.StageSince, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	return c, err
}

func (r Repo) InsertCustomer(ctx context.Context, c Customer) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO customers(id,name,stage,salesperson,created_by,address,phone,email,stage_since,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		c.ID, c.Name, c.Stage, nullable(c.Salesperson), nullable(c.CreatedBy), nullable(c.Address), nullable(c.Phone), nullable(c.Email), nullable(c.StageSince), c.CreatedAt, c.UpdatedAt)
	return err
}

func (r Repo) GetCustomer(ctx context.Context, id string) (Customer, error) {
	return scanCustomer(r.DB.QueryRowContext(ctx, `SELECT `+customerCols+` FROM customers WHERE id=?`, id))
}

func (r Repo) ListCustomers(ctx context.Context) ([]Customer, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+customerCols+` FROM customers ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Customer
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r Repo) UpdateCustomerStage(ctx context.Context, tx *sql.Tx, id, stage, now string) error {
	res, err := tx.ExecContext(ctx, `UPDATE customers SET stage=?, stage_since=?, updated_at=? WHERE id=?`, stage, now, now, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

const jobCols = `id,customer_id,COALESCE(reference,''),stage,COALESCE(job_type,''),value,COALESCE(measure_date,''),COALESCE(stage_since,''),created_at,updated_at`

func scanJob(row interface{ Scan(...any) error }) (Job, error) {
	var j Job
	err := row.Scan(&j.ID, &j.CustomerID, &j.Reference, &j.Stage, &j.JobType, &j.Value, &j.MeasureDate, &j.StageSince, &j.CreatedAt, &j.UpdatedAt)
	if err == sql.ErrNoRows {
		return j, ErrNotFound
	}
	return j, err
}

func (r Repo) InsertJob(ctx context.Context, j Job) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO jobs(id,customer_id,reference,stage,job_type,value,measure_date,stage_since,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		j.ID, j.CustomerID, nullable(j.Reference), j.Stage, nullable(j.JobType), j.Value, nullable(j.MeasureDate), nullable(j.StageSince), j.CreatedAt, j.UpdatedAt)
	return err
}

func (r Repo) GetJob(ctx context.Context, id string) (Job, error) {
	return scanJob(r.DB.QueryRowContext(ctx, `SELECT `+jobCols+` FROM jobs WHERE id=?`, id))
}

func (r Repo) ListJobs(ctx context.Context) ([]Job, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+jobCols+` FROM jobs ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (r Repo) UpdateJobStage(ctx context.Context, tx *sql.Tx, id, stage, now string) error {
	res, err := tx.ExecContext(ctx, `UPDATE jobs SET stage=?, stage_since=?, updated_at=? WHERE id=?`, stage, now, now, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

const projectCols = `id,customer_id,name,COALESCE(job_type,''),stage,COALESCE(scheduled_date,''),COALESCE(notes,''),COALESCE(stage_since,''),created_at,updated_at`

func scanProject(row interface{ Scan(...any) error }) (Project, error) {
	var p Project
	err := row.Scan(&p.ID, &p.CustomerID, &p.Name, &p.JobType, &p.Stage, &p.ScheduledDate, &p.Notes, &p.StageSince, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	return p, err
}

func (r Repo) InsertProject(ctx context.Context, p Project) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO projects(id,customer_id,name,job_type,stage,scheduled_date,notes,stage_since,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.CustomerID, p.Name, nullable(p.JobType), p.Stage, nullable(p.ScheduledDate), nullable(p.Notes), nullable(p.StageSince), p.CreatedAt, p.UpdatedAt)
	return err
}

func (r Repo) GetProject(ctx context.Context, id string) (Project, error) {
	return scanProject(r.DB.QueryRowContext(ctx, `SELECT `+projectCols+` FROM projects WHERE id=?`, id))
}

func (r Repo) ListProjects(ctx context.Context) ([]Project, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+projectCols+` FROM projects ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ReplaceProject overwrites the full mutable project payload; there is
// deliberately no partial-update statement for projects.
func (r Repo) ReplaceProject(ctx context.Context, tx *sql.Tx, p Project) error {
	res, err := tx.ExecContext(ctx, `UPDATE projects SET name=?, job_type=?, stage=?, scheduled_date=?, notes=?, stage_since=?, updated_at=? WHERE id=?`,
		p.Name, nullable(p.JobType), p.Stage, nullable(p.ScheduledDate), nullable(p.Notes), nullable(p.StageSince), p.UpdatedAt, p.ID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (r Repo) InsertQuote(ctx context.Context, q Quote) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO quotes(id,job_id,status,created_by,created_at) VALUES (?,?,?,?,?)`,
		q.ID, q.JobID, q.Status, nullable(q.CreatedBy), q.CreatedAt)
	return err
}

func (r Repo) ListQuotes(ctx context.Context, jobID string) ([]Quote, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,job_id,status,COALESCE(created_by,''),created_at FROM quotes WHERE job_id=? ORDER BY created_at`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Quote
	for rows.Next() {
		var q Quote
		if err := rows.Scan(&q.ID, &q.JobID, &q.Status, &q.CreatedBy, &q.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

func (r Repo) InsertInvoice(ctx context.Context, inv Invoice) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO invoices(id,entity_id,reference,amount,status,created_by,created_at) VALUES (?,?,?,?,?,?,?)`,
		inv.ID, inv.EntityID, nullable(inv.Reference), inv.Amount, inv.Status, nullable(inv.CreatedBy), inv.CreatedAt)
	return err
}

func (r Repo) ListEvents(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,ts,type,entity_kind,COALESCE(entity_id,''),COALESCE(actor_id,''),payload_json FROM events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &e.EntityID, &e.ActorID, &e.PayloadJSON); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
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

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
