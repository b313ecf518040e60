// Command snagctl is a terminal client for the booking platform. It keeps a
// single signed-in session on disk (or in Redis) and talks to Supabase
// directly, the same way the web client does.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"text/tabwriter"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"

	"github.com/snagbook/snag/internal/booking"
	"github.com/snagbook/snag/internal/config"
	"github.com/snagbook/snag/internal/domain"
	"github.com/snagbook/snag/internal/logging"
	"github.com/snagbook/snag/internal/session"
	"github.com/snagbook/snag/supabase"
)

const usage = `usage: snagctl [flags] <command> [args]

commands:
  login <email>                       sign in (password from SNAG_PASSWORD or prompt flag)
  signup <email> <role> [full name]   create an account and profile
  logout                              sign out and clear the stored session
  whoami                              show the current session
  businesses                          list businesses
  services <business-id>              list a business's services
  appointments                        list my appointments
  availability <business-id> <service-id> <date> <start>
                                      check a slot (date YYYY-MM-DD, start HH:MM)
  book <business-id> <service-id> <date> <start> [notes]
                                      book an appointment
  cancel <appointment-id>             cancel an appointment
`

type app struct {
	cfg    *config.Config
	logger *logging.Logger
	client *supabase.Client
	store  *session.Store

	profiles     *booking.ProfileRepository
	businesses   *booking.BusinessRepository
	catalog      *booking.ServiceRepository
	appointments *booking.Service
}

func main() {
	var (
		configPath = flag.String("config", "config.yaml", "Path to config file")
		envFile    = flag.String("env", "", "Optional .env file with Supabase keys")
		password   = flag.String("password", "", "Password for login/signup (overrides SNAG_PASSWORD)")
	)
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	if *envFile != "" {
		if err := godotenv.Load(*envFile); err != nil {
			log.Fatalf("load env (%s): %v", *envFile, err)
		}
	}

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	a, err := newApp(cfg)
	if err != nil {
		log.Fatalf("setup: %v", err)
	}
	defer a.store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := a.run(ctx, flag.Arg(0), flag.Args()[1:], secret(*password)); err != nil {
		log.Fatalf("%s: %v", flag.Arg(0), err)
	}
}

func secret(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return os.Getenv("SNAG_PASSWORD")
}

func newApp(cfg *config.Config) (*app, error) {
	logger := logging.New("snagctl", logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})

	client, err := supabase.New(supabase.Config{
		URL:     cfg.Supabase.URL,
		AnonKey: cfg.Supabase.AnonKey,
	})
	if err != nil {
		return nil, fmt.Errorf("create backend client: %w", err)
	}

	storage, err := sessionStorage(cfg)
	if err != nil {
		return nil, err
	}

	profiles := booking.NewProfileRepository(client)
	businesses := booking.NewBusinessRepository(client)
	catalog := booking.NewServiceRepository(client)
	appointments := booking.NewAppointmentRepository(client)

	store := session.New(client.Auth(), profiles, storage, logger, &session.Options{
		RefreshLeeway: cfg.Session.RefreshLeeway.Std(),
	})

	return &app{
		cfg:          cfg,
		logger:       logger,
		client:       client,
		store:        store,
		profiles:     profiles,
		businesses:   businesses,
		catalog:      catalog,
		appointments: booking.NewService(profiles, businesses, catalog, appointments, nil, logger),
	}, nil
}

func sessionStorage(cfg *config.Config) (session.Storage, error) {
	switch cfg.Session.PersistBackend {
	case "", "file":
		path := cfg.Session.SnapshotPath
		if path == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return nil, fmt.Errorf("resolve home directory: %w", err)
			}
			path = home + "/.snag/session.json"
		}
		return session.NewFileStorage(path), nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Session.RedisAddr,
			Password: cfg.Session.RedisPassword,
			DB:       cfg.Session.RedisDB,
		})
		return session.NewRedisStorage(client, 0), nil
	}
	return nil, fmt.Errorf("unknown session backend %q", cfg.Session.PersistBackend)
}

func (a *app) run(ctx context.Context, command string, args []string, password string) error {
	switch command {
	case "login":
		if len(args) != 1 {
			return fmt.Errorf("usage: login <email>")
		}
		if password == "" {
			return fmt.Errorf("set SNAG_PASSWORD or pass -password")
		}
		return a.login(ctx, args[0], password)
	case "signup":
		if len(args) < 2 {
			return fmt.Errorf("usage: signup <email> <role> [full name]")
		}
		if password == "" {
			return fmt.Errorf("set SNAG_PASSWORD or pass -password")
		}
		fullName := ""
		if len(args) > 2 {
			fullName = args[2]
		}
		return a.signup(ctx, args[0], password, args[1], fullName)
	case "logout":
		return a.store.SignOut(ctx)
	case "whoami":
		return a.whoami(ctx)
	case "businesses":
		return a.listBusinesses(ctx)
	case "services":
		if len(args) != 1 {
			return fmt.Errorf("usage: services <business-id>")
		}
		return a.listServices(ctx, args[0])
	case "appointments":
		return a.listAppointments(ctx)
	case "availability":
		if len(args) != 4 {
			return fmt.Errorf("usage: availability <business-id> <service-id> <date> <start>")
		}
		return a.checkAvailability(ctx, args[0], args[1], args[2], args[3])
	case "book":
		if len(args) < 4 {
			return fmt.Errorf("usage: book <business-id> <service-id> <date> <start> [notes]")
		}
		notes := ""
		if len(args) > 4 {
			notes = args[4]
		}
		return a.book(ctx, args[0], args[1], args[2], args[3], notes)
	case "cancel":
		if len(args) != 1 {
			return fmt.Errorf("usage: cancel <appointment-id>")
		}
		return a.cancel(ctx, args[0])
	}
	flag.Usage()
	return fmt.Errorf("unknown command %q", command)
}

func (a *app) login(ctx context.Context, email, password string) error {
	if err := a.store.SignIn(ctx, email, password); err != nil {
		return err
	}
	snap := a.store.Snapshot()
	fmt.Printf("signed in as %s (%s)\n", snap.Profile.Email, snap.Profile.Role)
	return nil
}

func (a *app) signup(ctx context.Context, email, password, role, fullName string) error {
	parsed, err := domain.ParseRole(role)
	if err != nil {
		return err
	}
	if err := a.store.SignUp(ctx, email, password, fullName, parsed); err != nil {
		return err
	}
	snap := a.store.Snapshot()
	fmt.Printf("account created for %s (%s)\n", snap.Profile.Email, snap.Profile.Role)
	return nil
}

func (a *app) whoami(ctx context.Context) error {
	snap, err := a.resume(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("email:   %s\n", snap.Profile.Email)
	fmt.Printf("role:    %s\n", snap.Profile.Role)
	fmt.Printf("id:      %s\n", snap.Profile.ID)
	fmt.Printf("expires: %s\n", snap.ExpiresAt.Local().Format(time.RFC1123))
	return nil
}

func (a *app) listBusinesses(ctx context.Context) error {
	list, err := a.businesses.List(ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tDESCRIPTION")
	for _, b := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\n", b.ID, b.Name, b.Description)
	}
	return w.Flush()
}

func (a *app) listServices(ctx context.Context, businessID string) error {
	list, err := a.catalog.ListByBusiness(ctx, businessID)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tMINUTES\tPRICE")
	for _, s := range list {
		fmt.Fprintf(w, "%s\t%s\t%d\t%.2f\n", s.ID, s.Name, s.DurationMinutes, s.Price)
	}
	return w.Flush()
}

func (a *app) listAppointments(ctx context.Context) error {
	snap, err := a.resume(ctx)
	if err != nil {
		return err
	}
	authed := supabase.WithAccessToken(ctx, snap.AccessToken)
	list, err := a.appointments.ListForPrincipal(authed, snap.Profile)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tDATE\tSTART\tEND\tSTATUS\tBUSINESS")
	for _, appt := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			appt.ID, appt.Date, appt.StartTime, appt.EndTime, appt.Status, appt.BusinessID)
	}
	return w.Flush()
}

func (a *app) checkAvailability(ctx context.Context, businessID, serviceID, date, start string) error {
	snap, err := a.resume(ctx)
	if err != nil {
		return err
	}
	authed := supabase.WithAccessToken(ctx, snap.AccessToken)
	avail, err := a.appointments.CheckAvailability(authed, businessID, serviceID, date, start)
	if err != nil {
		return err
	}
	if avail.Available {
		fmt.Printf("available: %s %s-%s\n", date, avail.StartTime, avail.EndTime)
		return nil
	}
	fmt.Printf("taken: %s %s-%s conflicts with %d appointment(s)\n",
		date, avail.StartTime, avail.EndTime, len(avail.Conflicts))
	return nil
}

func (a *app) book(ctx context.Context, businessID, serviceID, date, start, notes string) error {
	snap, err := a.resume(ctx)
	if err != nil {
		return err
	}
	authed := supabase.WithAccessToken(ctx, snap.AccessToken)
	appt, err := a.appointments.Create(authed, snap.Profile, booking.CreateRequest{
		ClientID:   snap.Profile.ID,
		BusinessID: businessID,
		ServiceID:  serviceID,
		Date:       date,
		StartTime:  start,
		Notes:      notes,
	})
	if err != nil {
		return err
	}
	fmt.Printf("booked %s on %s %s-%s (%s)\n", appt.ID, appt.Date, appt.StartTime, appt.EndTime, appt.Status)
	return nil
}

func (a *app) cancel(ctx context.Context, appointmentID string) error {
	snap, err := a.resume(ctx)
	if err != nil {
		return err
	}
	authed := supabase.WithAccessToken(ctx, snap.AccessToken)
	appt, err := a.appointments.UpdateStatus(authed, snap.Profile, appointmentID, domain.StatusCancelled, "")
	if err != nil {
		return err
	}
	fmt.Printf("cancelled %s\n", appt.ID)
	return nil
}

// resume restores the persisted session and fails when nobody is signed in.
func (a *app) resume(ctx context.Context) (session.Session, error) {
	if err := a.store.Init(ctx); err != nil {
		return session.Session{}, err
	}
	snap := a.store.Snapshot()
	if !snap.IsAuthenticated {
		return session.Session{}, fmt.Errorf("not signed in (run: snagctl login <email>)")
	}
	return snap, nil
}
