package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"ktransport/internal/grpchealth"
	"ktransport/internal/jobs"
	"ktransport/internal/model"
	"ktransport/internal/notify"
	"ktransport/internal/session"
)

var errNotSignedIn = errors.New("not signed in")

type command func(ctx context.Context, a *app, args []string) error

var commands = map[string]command{
	"login":                   cmdLogin,
	"register":                cmdRegister,
	"whoami":                  cmdWhoami,
	"bootstrap":               cmdBootstrap,
	"token":                   cmdToken,
	"refresh":                 cmdRefresh,
	"logout":                  cmdLogout,
	"send-phone-verification": cmdSendPhoneVerification,
	"verify-phone":            cmdVerifyPhone,
	"send-email-verification": cmdSendEmailVerification,
	"verify-email":            cmdVerifyEmail,
	"remind":                  cmdRemind,
	"health":                  cmdHealth,
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

// usageError marks a bad invocation. run prints the flag defaults and exits 2.
type usageError struct {
	fs  *flag.FlagSet
	err error
}

func (e *usageError) Error() string { return e.err.Error() }

func (e *usageError) Unwrap() error { return e.err }

func (e *usageError) printUsage(w io.Writer) {
	fmt.Fprintf(w, "usage of %s:\n", e.fs.Name())
	e.fs.SetOutput(w)
	e.fs.PrintDefaults()
	e.fs.SetOutput(io.Discard)
}

func parseFlags(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return &usageError{fs: fs, err: err}
	}
	return nil
}

func usagef(fs *flag.FlagSet, format string, args ...any) error {
	return &usageError{fs: fs, err: fmt.Errorf(format, args...)}
}

func cmdLogin(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("login")
	email := fs.String("email", "", "account email")
	password := fs.String("password", "", "account password")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if *email == "" || *password == "" {
		return usagef(fs, "login requires -email and -password")
	}

	resp, err := a.client.Login(ctx, model.Credentials{Email: *email, Password: *password})
	if err != nil {
		return describe(err)
	}
	fmt.Fprintf(a.out, "signed in as %s (%s)\n", resp.User.FullName(), resp.User.Role)
	return nil
}

func cmdRegister(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("register")
	var data model.RegisterData
	var role string
	fs.StringVar(&data.Email, "email", "", "account email")
	fs.StringVar(&data.Password, "password", "", "password, at least 8 characters")
	fs.StringVar(&data.FirstName, "first", "", "first name")
	fs.StringVar(&data.LastName, "last", "", "last name")
	fs.StringVar(&data.Phone, "phone", "", "phone number")
	fs.StringVar(&role, "role", "", "commuter, driver or parent")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if role != "" {
		data.Role = model.ParseRole(role)
	}

	resp, err := a.client.Register(ctx, data)
	if err != nil {
		return describe(err)
	}
	fmt.Fprintf(a.out, "registered %s (%s)\n", resp.User.Email, resp.User.Role)
	return nil
}

func cmdWhoami(ctx context.Context, a *app, _ []string) error {
	user := a.client.CurrentUser(ctx, "")
	if user == nil {
		return errNotSignedIn
	}
	verified := "unverified"
	if user.IsVerified {
		verified = "verified"
	}
	fmt.Fprintf(a.out, "%s <%s> role=%s %s\n", user.FullName(), user.Email, user.Role, verified)
	return nil
}

func cmdBootstrap(ctx context.Context, a *app, _ []string) error {
	state := session.Bootstrap(ctx, a.client, a.log)
	if !state.Authenticated() {
		fmt.Fprintf(a.out, "%s\n", state.Screen)
		return nil
	}
	fmt.Fprintf(a.out, "%s (%s)\n", state.Screen, state.User.FullName())
	return nil
}

func cmdToken(ctx context.Context, a *app, _ []string) error {
	token, err := a.client.Token(ctx)
	if err != nil {
		return err
	}
	if token == "" {
		return errNotSignedIn
	}
	fmt.Fprintln(a.out, token)
	return nil
}

func cmdRefresh(ctx context.Context, a *app, _ []string) error {
	if !a.client.RefreshToken(ctx) {
		return errors.New("token refresh failed")
	}
	fmt.Fprintln(a.out, "session refreshed")
	return nil
}

func cmdLogout(ctx context.Context, a *app, _ []string) error {
	if err := a.client.Logout(ctx); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "signed out")
	return nil
}

func cmdSendPhoneVerification(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("send-phone-verification")
	phone := fs.String("phone", "", "phone number")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if err := a.client.SendPhoneVerification(ctx, *phone); err != nil {
		return describe(err)
	}
	fmt.Fprintln(a.out, "verification code sent")
	return nil
}

func cmdVerifyPhone(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("verify-phone")
	phone := fs.String("phone", "", "phone number")
	code := fs.String("code", "", "six digit code")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if err := a.client.VerifyPhone(ctx, *phone, *code); err != nil {
		return describe(err)
	}
	fmt.Fprintln(a.out, "phone verified")
	return nil
}

func cmdSendEmailVerification(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("send-email-verification")
	email := fs.String("email", "", "email address")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if err := a.client.SendEmailVerification(ctx, *email); err != nil {
		return describe(err)
	}
	fmt.Fprintln(a.out, "verification code sent")
	return nil
}

func cmdVerifyEmail(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("verify-email")
	email := fs.String("email", "", "email address")
	code := fs.String("code", "", "six digit code")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if err := a.client.VerifyEmail(ctx, *email, *code); err != nil {
		return describe(err)
	}
	fmt.Fprintln(a.out, "email verified")
	return nil
}

func cmdRemind(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("remind")
	bookingID := fs.String("booking", "", "booking id for the pickup reminder")
	pickup := fs.String("pickup", "", "pickup time, RFC 3339")
	from := fs.String("from", "", "pickup location, sends a booking confirmation when set with -to")
	to := fs.String("to", "", "drop-off location")
	tripID := fs.String("trip", "", "trip id for the arrival reminder")
	arrival := fs.String("arrival", "", "estimated arrival time, RFC 3339")
	wait := fs.Duration("wait", 0, "keep running this long to deliver reminders")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if *bookingID == "" && *tripID == "" {
		return usagef(fs, "remind requires -booking with -pickup or -trip with -arrival")
	}
	var pickupAt, arrivalAt time.Time
	if *bookingID != "" {
		t, err := parseTime(fs, "pickup", *pickup)
		if err != nil {
			return err
		}
		pickupAt = t
	}
	if *tripID != "" {
		t, err := parseTime(fs, "arrival", *arrival)
		if err != nil {
			return err
		}
		arrivalAt = t
	}

	deliver := func(d notify.Delivery) {
		fmt.Fprintf(a.out, "[%s] %s: %s\n", d.At.Local().Format("15:04"), d.Notification.Title, d.Notification.Body)
	}

	var platform notify.Platform
	var queue jobs.DueQueue
	if a.redis != nil {
		redisPlatform, err := notify.NewRedisPlatform(a.redis, a.cfg.RedisNamespace+":notifications", a.log)
		if err != nil {
			return err
		}
		platform, queue = redisPlatform, redisPlatform
	} else {
		local := notify.NewLocalPlatform(nil, deliver)
		defer local.Close()
		platform = local
		if *wait <= 0 {
			a.log.Warn("in-process reminders only fire while the command runs, pass -wait")
		}
	}
	svc := notify.NewService(platform, time.Now, a.log)

	scheduled := 0
	if *bookingID != "" {
		if *from != "" && *to != "" {
			svc.NotifyBookingConfirmed(ctx, model.Booking{
				ID:              *bookingID,
				PickupLocation:  *from,
				DropoffLocation: *to,
				PickupTime:      pickupAt,
				Status:          model.BookingConfirmed,
			})
		}
		if id := svc.SchedulePickupReminder(ctx, *bookingID, pickupAt); id != "" {
			fmt.Fprintf(a.out, "pickup reminder %s\n", id)
			scheduled++
		}
	}
	if *tripID != "" {
		if id := svc.ScheduleArrivalReminder(ctx, *tripID, arrivalAt); id != "" {
			fmt.Fprintf(a.out, "arrival reminder %s\n", id)
			scheduled++
		}
	}
	if scheduled == 0 {
		a.log.Info("no reminders scheduled")
	}

	if *wait > 0 {
		waitCtx, cancel := context.WithTimeout(ctx, *wait)
		defer cancel()
		if queue != nil {
			jobs.StartReminderDispatch(waitCtx, a.cfg, queue, deliver, a.log)
		}
		<-waitCtx.Done()
	}
	return nil
}

func cmdHealth(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("health")
	addr := fs.String("addr", "127.0.0.1:9091", "backend gRPC address")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	status, err := grpchealth.Probe(ctx, *addr)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, strings.ToLower(status.String()))
	return nil
}

func parseTime(fs *flag.FlagSet, name, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, usagef(fs, "-%s is required", name)
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, usagef(fs, "-%s: %w", name, err)
	}
	return t, nil
}
