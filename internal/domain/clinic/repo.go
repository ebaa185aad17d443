package clinic

import (
	"context"
)

type PatientRepository interface {
	List(ctx context.Context) ([]*Patient, error)
	// Save upserts by ID; an empty ID creates the patient and sets p.ID.
	Save(ctx context.Context, p *Patient) error
}

type ProfessionalRepository interface {
	List(ctx context.Context) ([]*Professional, error)
	Save(ctx context.Context, p *Professional) error
}

type ServiceRepository interface {
	List(ctx context.Context) ([]*Service, error)
	Save(ctx context.Context, s *Service) error
}

type AppointmentRepository interface {
	List(ctx context.Context) ([]*Appointment, error)
	Create(ctx context.Context, a *Appointment) error
	// UpdateStatus writes the status column only.
	UpdateStatus(ctx context.Context, id string, status Status) error
	Delete(ctx context.Context, id string) error
}
