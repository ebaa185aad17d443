// Package sandbox generates reproducible demo data for a fresh clinic:
// professionals, a service catalogue, patients and a spread of booked
// appointments around a reference day. Everything goes through the agenda
// layer, so seeded appointments obey the same overlap rule as real ones.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/cian/agenda/internal/domain/clinic"
)

// SeedConfig controls the volume and shape of generated data.
type SeedConfig struct {
	PatientCount      int
	ProfessionalCount int
	DaysBack          int
	DaysAhead         int
	AttemptsPerDay    int
	Seed              int64

	// Reference day; zero means today.
	Today time.Time
}

func DefaultSeedConfig() SeedConfig {
	return SeedConfig{
		PatientCount:      40,
		ProfessionalCount: 4,
		DaysBack:          14,
		DaysAhead:         14,
		AttemptsPerDay:    12,
	}
}

// SeedResult summarizes what a seed run wrote.
type SeedResult struct {
	Patients      int           `json:"patients"`
	Professionals int           `json:"professionals"`
	Services      int           `json:"services"`
	Appointments  int           `json:"appointments"`
	Conflicts     int           `json:"conflicts"`
	Duration      time.Duration `json:"duration"`
}

type serviceDef struct {
	Name    string
	Minutes int
	Price   float64
}

var (
	firstNames = []string{
		"Ana", "Camila", "Valentina", "Francisca", "Javiera", "Catalina",
		"Fernanda", "Constanza", "Isidora", "Josefa", "Martina", "Sofía",
		"Benjamín", "Vicente", "Matías", "Sebastián", "Tomás", "Joaquín",
		"Diego", "Nicolás", "Felipe", "Cristóbal", "Agustín", "Lucas",
	}
	lastNames = []string{
		"González", "Muñoz", "Rojas", "Díaz", "Pérez", "Soto", "Contreras",
		"Silva", "Martínez", "Sepúlveda", "Morales", "Rodríguez", "López",
		"Fuentes", "Hernández", "Torres", "Araya", "Flores", "Espinoza",
		"Valenzuela", "Castillo", "Tapia", "Reyes", "Gutiérrez",
	}
	specialties = []string{
		"Psicología", "Kinesiología", "Fonoaudiología", "Terapia ocupacional",
		"Nutrición", "Psicopedagogía",
	}
	catalogue = []serviceDef{
		{"Consulta general", 30, 30000},
		{"Terapia individual", 45, 35000},
		{"Evaluación inicial", 60, 45000},
		{"Control", 15, 15000},
	}
	// Past appointments settle into one of these, weighted toward attended.
	pastStatuses = []clinic.Status{
		clinic.StatusAttended, clinic.StatusAttended, clinic.StatusAttended,
		clinic.StatusAttended, clinic.StatusAbsent, clinic.StatusCancelled,
	}
)

// DataGenerator produces deterministic synthetic clinic records.
type DataGenerator struct {
	rng     *rand.Rand
	counter uint64
}

// NewDataGenerator returns a generator seeded for reproducibility. If seed is
// 0 a time-based seed is chosen.
func NewDataGenerator(seed int64) *DataGenerator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &DataGenerator{rng: rand.New(rand.NewSource(seed))}
}

func (g *DataGenerator) pick(pool []string) string {
	return pool[g.rng.Intn(len(pool))]
}

func (g *DataGenerator) fullName() string {
	return fmt.Sprintf("%s %s %s", g.pick(firstNames), g.pick(lastNames), g.pick(lastNames))
}

func (g *DataGenerator) randomDate(minYear, maxYear int) string {
	y := minYear + g.rng.Intn(maxYear-minYear+1)
	m := 1 + g.rng.Intn(12)
	d := 1 + g.rng.Intn(28) // safe for all months
	return fmt.Sprintf("%04d-%02d-%02d", y, m, d)
}

func (g *DataGenerator) randomPhone() string {
	return fmt.Sprintf("+56 9 %04d %04d", g.rng.Intn(10000), g.rng.Intn(10000))
}

// randomRUT returns a national id with a valid modulo-11 check digit.
func (g *DataGenerator) randomRUT() string {
	body := 5_000_000 + g.rng.Intn(20_000_000)
	return fmt.Sprintf("%d-%s", body, CheckDigit(body))
}

// CheckDigit computes the modulo-11 verifier of a RUT body.
func CheckDigit(body int) string {
	sum, factor := 0, 2
	for n := body; n > 0; n /= 10 {
		sum += (n % 10) * factor
		factor++
		if factor > 7 {
			factor = 2
		}
	}
	switch d := 11 - sum%11; d {
	case 11:
		return "0"
	case 10:
		return "K"
	default:
		return strconv.Itoa(d)
	}
}

func (g *DataGenerator) Patient() *clinic.Patient {
	g.counter++
	rut := g.randomRUT()
	birth := g.randomDate(1950, 2020)
	phone := g.randomPhone()
	email := fmt.Sprintf("paciente%03d@example.com", g.counter)
	return &clinic.Patient{
		FullName:  g.fullName(),
		RUT:       &rut,
		BirthDate: &birth,
		Phone:     &phone,
		Email:     &email,
	}
}

func (g *DataGenerator) Professional() *clinic.Professional {
	specialty := g.pick(specialties)
	return &clinic.Professional{FullName: g.fullName(), Specialty: &specialty}
}

// Seeder writes generated records through an agenda.
type Seeder struct {
	agenda    *clinic.Agenda
	generator *DataGenerator
	config    SeedConfig
	logger    zerolog.Logger
}

func NewSeeder(agenda *clinic.Agenda, config SeedConfig, logger zerolog.Logger) *Seeder {
	return &Seeder{
		agenda:    agenda,
		generator: NewDataGenerator(config.Seed),
		config:    config,
		logger:    logger,
	}
}

// Seed creates the catalogue, people and appointments. Bookings that collide
// with an earlier seeded appointment are counted as conflicts and skipped;
// past appointments are then moved to a final status.
func (s *Seeder) Seed(ctx context.Context) (*SeedResult, error) {
	start := time.Now()
	result := &SeedResult{}

	var proIDs []string
	for i := 0; i < s.config.ProfessionalCount; i++ {
		p := s.generator.Professional()
		if err := s.agenda.SaveProfessional(ctx, p); err != nil {
			return nil, fmt.Errorf("seed professional: %w", err)
		}
		proIDs = append(proIDs, p.ID)
	}
	result.Professionals = len(proIDs)

	var serviceIDs []string
	for _, def := range catalogue {
		price := def.Price
		svc, err := s.agenda.SaveService(ctx, clinic.ServiceInput{Name: def.Name, DurationMinutes: def.Minutes, Price: &price})
		if err != nil {
			return nil, fmt.Errorf("seed service %q: %w", def.Name, err)
		}
		serviceIDs = append(serviceIDs, svc.ID)
	}
	result.Services = len(serviceIDs)

	var patientIDs []string
	for i := 0; i < s.config.PatientCount; i++ {
		p := s.generator.Patient()
		if err := s.agenda.SavePatient(ctx, p); err != nil {
			return nil, fmt.Errorf("seed patient: %w", err)
		}
		patientIDs = append(patientIDs, p.ID)
	}
	result.Patients = len(patientIDs)

	if len(proIDs) == 0 || len(patientIDs) == 0 || s.config.AttemptsPerDay <= 0 {
		result.Duration = time.Since(start)
		return result, nil
	}

	settings := s.agenda.Settings()
	slots := clinic.GenerateSlots(settings.BlockMinutes, settings.WorkdayStart, settings.WorkdayEnd)
	if len(slots) == 0 {
		return nil, fmt.Errorf("seed appointments: workday %s-%s yields no slots", settings.WorkdayStart, settings.WorkdayEnd)
	}

	today := s.config.Today
	if today.IsZero() {
		today = time.Now()
	}
	today = time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, today.Location())

	rng := s.generator.rng
	for offset := -s.config.DaysBack; offset <= s.config.DaysAhead; offset++ {
		day := today.AddDate(0, 0, offset)
		if day.Weekday() == time.Sunday {
			continue
		}
		for i := 0; i < s.config.AttemptsPerDay; i++ {
			appt, err := s.agenda.BookAppointment(ctx, clinic.BookingRequest{
				PatientID:      patientIDs[rng.Intn(len(patientIDs))],
				ProfessionalID: proIDs[rng.Intn(len(proIDs))],
				ServiceID:      serviceIDs[rng.Intn(len(serviceIDs))],
				Date:           day.Format("2006-01-02"),
				StartTime:      slots[rng.Intn(len(slots))],
			})
			if errors.Is(err, clinic.ErrConflict) {
				result.Conflicts++
				continue
			}
			if clinic.IsValidation(err) {
				// A late slot plus a long service can end past midnight.
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("seed appointment: %w", err)
			}
			result.Appointments++

			if offset < 0 {
				status := pastStatuses[rng.Intn(len(pastStatuses))]
				if _, err := s.agenda.UpdateAppointmentStatus(ctx, appt.ID, string(status)); err != nil {
					return nil, fmt.Errorf("seed status: %w", err)
				}
			}
		}
	}

	result.Duration = time.Since(start)
	s.logger.Info().
		Int("patients", result.Patients).
		Int("professionals", result.Professionals).
		Int("appointments", result.Appointments).
		Int("conflicts", result.Conflicts).
		Dur("duration", result.Duration).
		Msg("demo data seeded")
	return result, nil
}
