package repository

import "time"

// CargoMedico is the employee position that makes someone a physician
const CargoMedico = "Medico"

// Patient is a registered patient
type Patient struct {
	ID               string     `db:"id" json:"id"`
	Cedula           string     `db:"cedula" json:"cedula"`
	Nombres          string     `db:"nombres" json:"nombres"`
	Apellidos        string     `db:"apellidos" json:"apellidos"`
	Email            *string    `db:"email" json:"email,omitempty"`
	Telefono         *string    `db:"telefono" json:"telefono,omitempty"`
	Activo           bool       `db:"activo" json:"activo"`
	FechaEliminacion *time.Time `db:"fecha_eliminacion" json:"fecha_eliminacion,omitempty"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at" json:"updated_at"`
}

// FullName returns nombres followed by apellidos
func (p *Patient) FullName() string {
	return p.Nombres + " " + p.Apellidos
}

// Employee is a staff member. Physicians are employees with cargo Medico.
type Employee struct {
	ID           string    `db:"id" json:"id"`
	Nombres      string    `db:"nombres" json:"nombres"`
	Apellidos    string    `db:"apellidos" json:"apellidos"`
	Cargo        string    `db:"cargo" json:"cargo"`
	Especialidad *string   `db:"especialidad" json:"especialidad,omitempty"`
	Email        *string   `db:"email" json:"email,omitempty"`
	Activo       bool      `db:"activo" json:"activo"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// FullName returns nombres followed by apellidos
func (e *Employee) FullName() string {
	return e.Nombres + " " + e.Apellidos
}
