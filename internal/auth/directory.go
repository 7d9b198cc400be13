// Package auth looks up demo credentials and issues session tokens.
package auth

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

const (
	RolePatient = "patient"
	RoleDoctor  = "doctor"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

type Patient struct {
	Password string `json:"password"`
	Phone    string `json:"phone"`
}

type Doctor struct {
	Password   string `json:"password"`
	Department string `json:"department"`
}

// Directory is a read-only set of known patients and doctors.
type Directory struct {
	Patients map[string]Patient `json:"patients"`
	Doctors  map[string]Doctor  `json:"doctors"`
}

// DemoDirectory returns the built-in demo users.
func DemoDirectory() *Directory {
	return &Directory{
		Patients: map[string]Patient{
			"p001": {Password: "patient123", Phone: "8090937332"},
			"p002": {Password: "patient456", Phone: "+0987654321"},
		},
		Doctors: map[string]Doctor{
			"d001": {Password: "doctor123", Department: "Cardiology"},
			"d002": {Password: "doctor456", Department: "Oncology"},
		},
	}
}

// LoadDirectory reads a directory from a JSON file. An empty path yields the
// demo directory.
func LoadDirectory(path string) (*Directory, error) {
	if path == "" {
		return DemoDirectory(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read user directory: %w", err)
	}

	var d Directory
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("failed to decode user directory: %w", err)
	}
	if len(d.Patients) == 0 && len(d.Doctors) == 0 {
		return nil, fmt.Errorf("user directory %s is empty", path)
	}
	return &d, nil
}

// Patient checks a patient's password.
func (d *Directory) Patient(id, password string) (Patient, error) {
	p, ok := d.Patients[id]
	if !ok || !equal(p.Password, password) {
		return Patient{}, ErrInvalidCredentials
	}
	return p, nil
}

// Doctor checks a doctor's password.
func (d *Directory) Doctor(id, password string) (Doctor, error) {
	doc, ok := d.Doctors[id]
	if !ok || !equal(doc.Password, password) {
		return Doctor{}, ErrInvalidCredentials
	}
	return doc, nil
}

// HasPatient reports whether id is a known patient.
func (d *Directory) HasPatient(id string) bool {
	_, ok := d.Patients[id]
	return ok
}

func equal(want, got string) bool {
	return subtle.ConstantTimeCompare([]byte(want), []byte(got)) == 1
}
