// Command seed loads demo accounts, businesses, services, and appointments
// into a Supabase project so the gateway and snagctl have data to work with.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/snagbook/snag/internal/booking"
	"github.com/snagbook/snag/internal/domain"
	"github.com/snagbook/snag/internal/logging"
	"github.com/snagbook/snag/supabase"
)

type account struct {
	email    string
	fullName string
	role     domain.Role
}

var demoAccounts = []account{
	{"ada.client@snag.dev", "Ada Lovelace", domain.RoleClient},
	{"grace.client@snag.dev", "Grace Hopper", domain.RoleClient},
	{"sal.barber@snag.dev", "Sal's Barbershop", domain.RoleBusiness},
	{"mira.spa@snag.dev", "Mira Day Spa", domain.RoleBusiness},
	{"ops@snag.dev", "Platform Ops", domain.RoleAdmin},
}

func main() {
	var (
		envFile  = flag.String("env", ".env", "Path to .env with SUPABASE_* keys")
		url      = flag.String("url", "", "Supabase project URL (overrides SUPABASE_URL)")
		password = flag.String("password", "snag-demo-password", "Password for every demo account")
		days     = flag.Int("days", 7, "How many days of demo appointments to create")
	)
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !os.IsNotExist(err) {
		log.Fatalf("load env (%s): %v", *envFile, err)
	}

	projectURL := *url
	if projectURL == "" {
		projectURL = os.Getenv("SUPABASE_URL")
	}
	anonKey := os.Getenv("SUPABASE_ANON_KEY")
	serviceKey := os.Getenv("SUPABASE_SERVICE_KEY")
	if projectURL == "" || anonKey == "" || serviceKey == "" {
		log.Fatalf("SUPABASE_URL, SUPABASE_ANON_KEY and SUPABASE_SERVICE_KEY are required")
	}

	client, err := supabase.New(supabase.Config{
		URL:        projectURL,
		AnonKey:    anonKey,
		ServiceKey: serviceKey,
	})
	if err != nil {
		log.Fatalf("create client: %v", err)
	}

	ctx := context.Background()
	profiles := booking.NewProfileRepository(client)
	businesses := booking.NewBusinessRepository(client)
	catalog := booking.NewServiceRepository(client)
	appointments := booking.NewAppointmentRepository(client)

	byEmail := map[string]*domain.Profile{}
	for _, acct := range demoAccounts {
		profile, err := ensureAccount(ctx, client.Auth(), profiles, acct, *password)
		if err != nil {
			log.Fatalf("seed account %s: %v", acct.email, err)
		}
		byEmail[acct.email] = profile
		log.Printf("account ready: %s (%s)", profile.Email, profile.Role)
	}

	barbershop, err := ensureBusiness(ctx, businesses, &domain.Business{
		Name:        "Sal's Barbershop",
		Description: "Cuts, fades and hot-towel shaves.",
		Address:     "12 Mulberry St",
		Phone:       "+1-555-0101",
		OwnerID:     byEmail["sal.barber@snag.dev"].ID,
	})
	if err != nil {
		log.Fatalf("seed barbershop: %v", err)
	}
	spa, err := ensureBusiness(ctx, businesses, &domain.Business{
		Name:        "Mira Day Spa",
		Description: "Massage and skincare treatments.",
		Address:     "48 Harbor Ave",
		Phone:       "+1-555-0102",
		OwnerID:     byEmail["mira.spa@snag.dev"].ID,
	})
	if err != nil {
		log.Fatalf("seed spa: %v", err)
	}

	cut, err := ensureService(ctx, catalog, &domain.Service{
		BusinessID: barbershop.ID, Name: "Haircut", DurationMinutes: 30, Price: 25,
	})
	if err != nil {
		log.Fatalf("seed haircut: %v", err)
	}
	shave, err := ensureService(ctx, catalog, &domain.Service{
		BusinessID: barbershop.ID, Name: "Hot Towel Shave", DurationMinutes: 45, Price: 35,
	})
	if err != nil {
		log.Fatalf("seed shave: %v", err)
	}
	massage, err := ensureService(ctx, catalog, &domain.Service{
		BusinessID: spa.ID, Name: "Deep Tissue Massage", DurationMinutes: 60, Price: 90,
	})
	if err != nil {
		log.Fatalf("seed massage: %v", err)
	}

	logger := logging.New("seed", logging.Config{Level: "info", Format: "text"})
	svc := booking.NewService(profiles, businesses, catalog, appointments, nil, logger)
	ada := byEmail["ada.client@snag.dev"]
	grace := byEmail["grace.client@snag.dev"]

	created := 0
	for day := 1; day <= *days; day++ {
		date := time.Now().AddDate(0, 0, day).Format("2006-01-02")
		plan := []struct {
			client *domain.Profile
			svc    *domain.Service
			bizID  string
			start  string
		}{
			{ada, cut, barbershop.ID, "09:00"},
			{grace, shave, barbershop.ID, "10:30"},
			{ada, massage, spa.ID, "14:00"},
		}
		for _, p := range plan {
			_, err := svc.Create(ctx, p.client, booking.CreateRequest{
				ClientID:   p.client.ID,
				BusinessID: p.bizID,
				ServiceID:  p.svc.ID,
				Date:       date,
				StartTime:  p.start,
				Notes:      "demo booking",
			})
			if err != nil {
				// Re-running the seeder hits the slots it already booked.
				log.Printf("skip %s %s at %s: %v", p.client.Email, date, p.start, err)
				continue
			}
			created++
		}
	}

	fmt.Printf("seeded %d accounts, 2 businesses, 3 services, %d appointments\n",
		len(demoAccounts), created)
}

// ensureAccount signs the demo user up, or signs in when the address is
// already registered, then upserts the matching profile row.
func ensureAccount(ctx context.Context, auth *supabase.AuthClient, profiles *booking.ProfileRepository, acct account, password string) (*domain.Profile, error) {
	sess, err := auth.SignUp(ctx, acct.email, password, &supabase.SignUpOptions{
		Data: map[string]any{"full_name": acct.fullName, "role": string(acct.role)},
	})
	if err != nil {
		if !supabase.IsCredentialError(err) {
			return nil, fmt.Errorf("sign up: %w", err)
		}
		sess, err = auth.SignInWithPassword(ctx, acct.email, password)
		if err != nil {
			return nil, fmt.Errorf("sign in existing account: %w", err)
		}
	}
	if sess.User == nil {
		return nil, fmt.Errorf("auth response carried no user")
	}
	return profiles.EnsureProfile(ctx, &domain.Profile{
		ID:       sess.User.ID,
		Email:    acct.email,
		FullName: acct.fullName,
		Role:     acct.role,
	})
}

func ensureBusiness(ctx context.Context, repo *booking.BusinessRepository, b *domain.Business) (*domain.Business, error) {
	existing, err := repo.ListByOwner(ctx, b.OwnerID)
	if err != nil {
		return nil, err
	}
	for i := range existing {
		if existing[i].Name == b.Name {
			return &existing[i], nil
		}
	}
	return repo.Create(ctx, b)
}

func ensureService(ctx context.Context, repo *booking.ServiceRepository, s *domain.Service) (*domain.Service, error) {
	existing, err := repo.ListByBusiness(ctx, s.BusinessID)
	if err != nil {
		return nil, err
	}
	for i := range existing {
		if existing[i].Name == s.Name {
			return &existing[i], nil
		}
	}
	return repo.Create(ctx, s)
}
