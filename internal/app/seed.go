package app

import (
	"context"
	"database/sql"
	"time"

	"fitline/internal/repo"
)

// Seed loads a small demo book of business into the demo server DB.
// Existing rows with the same ids are left alone.
func Seed(ctx context.Context, db *sql.DB, now time.Time) error {
	r := repo.Repo{DB: db}
	ts := now.UTC().Format(time.RFC3339)

	customers := []repo.Customer{
		{ID: "c-1001", Name: "Harper & Sons", Stage: "Lead", Salesperson: "dana@fitline.test", CreatedBy: "Dana Reeve", Address: "12 Mill Lane, Leeds", Phone: "0113 496 0102"},
		{ID: "c-1002", Name: "Orchard House", Stage: "Survey", Salesperson: "sam@fitline.test", CreatedBy: "Sam Okafor", Address: "3 Orchard Rd, York", Phone: "01904 496 0188"},
		{ID: "c-1003", Name: "Bramley Kitchens Ltd", Stage: "Lead", Salesperson: "dana@fitline.test", CreatedBy: "Dana Reeve", Address: "Unit 4, Bramley Park", Phone: "0113 496 0456"},
	}
	jobs := []repo.Job{
		{ID: "j-2001", CustomerID: "c-1001", Reference: "JOB-2001", Stage: "Quote", JobType: "kitchen", Value: 14250, MeasureDate: "2026-09-04"},
		{ID: "j-2002", CustomerID: "c-1002", Reference: "JOB-2002", Stage: "Production", JobType: "wardrobe", Value: 6800, MeasureDate: "2026-08-12"},
	}
	projects := []repo.Project{
		{ID: "p-3001", CustomerID: "c-1003", Name: "Bramley showroom refit", JobType: "interior", Stage: "Design", ScheduledDate: "2026-10-01", Notes: "Two-phase install"},
	}

	for _, c := range customers {
		if _, err := r.GetCustomer(ctx, c.ID); err == nil {
			continue
		}
		c.StageSince = ts
		c.CreatedAt = ts
		c.UpdatedAt = ts
		if err := r.InsertCustomer(ctx, c); err != nil {
			return err
		}
	}
	for _, j := range jobs {
		if _, err := r.GetJob(ctx, j.ID); err == nil {
			continue
		}
		j.StageSince = ts
		j.CreatedAt = ts
		j.UpdatedAt = ts
		if err := r.InsertJob(ctx, j); err != nil {
			return err
		}
	}
	for _, p := range projects {
		if _, err := r.GetProject(ctx, p.ID); err == nil {
			continue
		}
		p.StageSince = ts
		p.CreatedAt = ts
		p.UpdatedAt = ts
		if err := r.InsertProject(ctx, p); err != nil {
			return err
		}
	}
	return nil
}
