package seeder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log"
	"time"

	"github.com/astrelia/readings/internal/auth"
	"github.com/astrelia/readings/internal/ledger"
)

const (
	TestAPIKey    = "test-api-key-12345"
	TestSubjectID = "00000000-0000-0000-0000-000000000001"
	TestProfileID = "00000000-0000-0000-0000-000000000002"
)

// SeedDemoSubject creates a demo subject with a birth profile and API key so
// the service is usable right after first boot.
func SeedDemoSubject(ctx context.Context, authStore auth.Store, ledgerStore ledger.Store) {
	subject := &ledger.Subject{
		ID:      TestSubjectID,
		Credits: 10,
		Tier:    ledger.TierStandard,
	}
	if err := ledgerStore.CreateSubject(ctx, subject); err != nil {
		log.Printf("[Seeder] Subject may already exist, skipping: %v", err)
		return
	}

	profile := &ledger.BirthProfile{
		ID:        TestProfileID,
		SubjectID: TestSubjectID,
		BirthDate: time.Date(1992, 8, 17, 0, 0, 0, 0, time.UTC),
		BirthHour: 6,
		BirthMin:  45,
		BirthCity: "Hanoi",
		Gender:    "female",
	}
	if err := ledgerStore.CreateProfile(ctx, profile); err != nil {
		log.Printf("[Seeder] Failed to create birth profile: %v", err)
		return
	}

	h := sha256.New()
	h.Write([]byte(TestAPIKey))
	keyHash := hex.EncodeToString(h.Sum(nil))

	apiKey := &auth.APIKey{
		SubjectID: TestSubjectID,
		KeyHash:   keyHash,
		Active:    true,
	}
	if err := authStore.Create(ctx, apiKey); err != nil {
		log.Printf("[Seeder] API key may already exist, skipping: %v", err)
		return
	}

	log.Printf("[Seeder] Demo subject created successfully")
	log.Printf("[Seeder] Key: %s", TestAPIKey)
	log.Printf("[Seeder] SubjectID: %s", TestSubjectID)
	log.Printf("[Seeder] ProfileID: %s", TestProfileID)
}
