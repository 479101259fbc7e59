package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/pawsacademy/training-api/internal/models"
)

// PetRepository reads pet records owned by the customer platform.
type PetRepository struct {
	db *sqlx.DB
}

// NewPetRepository constructs the repository.
func NewPetRepository(db *sqlx.DB) *PetRepository {
	return &PetRepository{db: db}
}

// FindByID returns a pet by its ID.
func (r *PetRepository) FindByID(ctx context.Context, id string) (*models.Pet, error) {
	const query = `SELECT id, owner_id, name, species, breed, birth_date, behavior_flags, active
        FROM pets WHERE id = $1`
	var pet models.Pet
	if err := r.db.GetContext(ctx, &pet, query, id); err != nil {
		return nil, err
	}
	return &pet, nil
}

// VaccinationRepository is a read-only lookup over the vaccination store.
type VaccinationRepository struct {
	db *sqlx.DB
}

// NewVaccinationRepository constructs the repository.
func NewVaccinationRepository(db *sqlx.DB) *VaccinationRepository {
	return &VaccinationRepository{db: db}
}

// ListByPet returns all vaccination records for a pet.
func (r *VaccinationRepository) ListByPet(ctx context.Context, petID string) ([]models.VaccinationRecord, error) {
	const query = `SELECT id, pet_id, vaccine_name, administered_at, expiry_date
        FROM vaccination_records WHERE pet_id = $1 ORDER BY administered_at DESC`
	var records []models.VaccinationRecord
	if err := r.db.SelectContext(ctx, &records, query, petID); err != nil {
		return nil, fmt.Errorf("list vaccination records: %w", err)
	}
	return records, nil
}
