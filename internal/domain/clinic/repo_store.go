package clinic

import (
	"context"
	"errors"
	"fmt"

	"github.com/cian/agenda/internal/platform/store"
)

// Repositories bundles the store-backed repositories of every entity.
type Repositories struct {
	Patients      PatientRepository
	Professionals ProfessionalRepository
	Services      ServiceRepository
	Appointments  AppointmentRepository
}

// NewStoreRepositories builds all repositories over one store handle.
func NewStoreRepositories(st store.Store) Repositories {
	return Repositories{
		Patients:      &patientRepo{st: st},
		Professionals: &professionalRepo{st: st},
		Services:      &serviceRepo{st: st},
		Appointments:  &appointmentRepo{st: st},
	}
}

func fetch[T any](ctx context.Context, st store.Store, table string, decode func(store.Record) *T) ([]*T, error) {
	recs, err := st.FetchAll(ctx, table)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", table, err)
	}
	out := make([]*T, 0, len(recs))
	for _, r := range recs {
		out = append(out, decode(r))
	}
	return out, nil
}

func save(ctx context.Context, st store.Store, table string, rec store.Record) (string, error) {
	id, err := st.Upsert(ctx, table, rec, store.DefaultPK)
	if err != nil {
		return "", fmt.Errorf("save %s: %w", table, err)
	}
	return id, nil
}

type patientRepo struct {
	st store.Store
}

func (r *patientRepo) List(ctx context.Context) ([]*Patient, error) {
	return fetch(ctx, r.st, store.Patients, patientFromRecord)
}

func (r *patientRepo) Save(ctx context.Context, p *Patient) error {
	id, err := save(ctx, r.st, store.Patients, p.record())
	if err != nil {
		return err
	}
	p.ID = id
	return nil
}

type professionalRepo struct {
	st store.Store
}

func (r *professionalRepo) List(ctx context.Context) ([]*Professional, error) {
	return fetch(ctx, r.st, store.Professionals, professionalFromRecord)
}

func (r *professionalRepo) Save(ctx context.Context, p *Professional) error {
	id, err := save(ctx, r.st, store.Professionals, p.record())
	if err != nil {
		return err
	}
	p.ID = id
	return nil
}

type serviceRepo struct {
	st store.Store
}

func (r *serviceRepo) List(ctx context.Context) ([]*Service, error) {
	return fetch(ctx, r.st, store.Services, serviceFromRecord)
}

func (r *serviceRepo) Save(ctx context.Context, s *Service) error {
	id, err := save(ctx, r.st, store.Services, s.record())
	if err != nil {
		return err
	}
	s.ID = id
	return nil
}

type appointmentRepo struct {
	st store.Store
}

func (r *appointmentRepo) List(ctx context.Context) ([]*Appointment, error) {
	return fetch(ctx, r.st, store.Appointments, appointmentFromRecord)
}

func (r *appointmentRepo) Create(ctx context.Context, a *Appointment) error {
	rec := a.record()
	if a.ID == "" {
		delete(rec, "id")
	}
	id, err := r.st.Insert(ctx, store.Appointments, rec)
	if err != nil {
		if errors.Is(err, store.ErrOverlap) {
			return ErrConflict
		}
		return fmt.Errorf("insert appointment: %w", err)
	}
	a.ID = id
	return nil
}

func (r *appointmentRepo) UpdateStatus(ctx context.Context, id string, status Status) error {
	_, err := save(ctx, r.st, store.Appointments, store.Record{
		"id":     id,
		"status": string(status),
	})
	return err
}

func (r *appointmentRepo) Delete(ctx context.Context, id string) error {
	if err := r.st.Delete(ctx, store.Appointments, id, store.DefaultPK); err != nil {
		return fmt.Errorf("delete appointment: %w", err)
	}
	return nil
}
