package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/kursadbilgin/webinar-reminder/internal/domain"
	"github.com/kursadbilgin/webinar-reminder/internal/service"
)

var errHelp = errors.New("help provided")

type ticker interface {
	RunTick(ctx context.Context, now time.Time) (service.TickResult, error)
}

type reminderService interface {
	Send(ctx context.Context, req service.SendRequest) (domain.Outcome, error)
	Status(ctx context.Context, webinarRef string) (*service.WebinarStatus, error)
}

// services is built lazily so that migrate does not need Redis or an email provider.
type services struct {
	ticker    ticker
	reminders reminderService
}

type commandLine struct {
	out      io.Writer
	migrate  func(ctx context.Context) error
	services func(ctx context.Context) (*services, error)
	now      func() time.Time
}

func (cli *commandLine) printUsage() {
	fmt.Fprintln(cli.out, "Usage:")
	fmt.Fprintln(cli.out, "  tick [-at RFC3339]                                      - run one scheduler pass")
	fmt.Fprintln(cli.out, "  send -webinar ID|SLUG -kind KIND [-dry-run] [-force]    - send one reminder kind now")
	fmt.Fprintln(cli.out, "  status -webinar ID|SLUG                                 - list dispatch markers")
	fmt.Fprintln(cli.out, "  migrate                                                 - apply database migrations")
}

func (cli *commandLine) run(ctx context.Context, args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	switch args[1] {
	case "tick":
		return cli.tick(ctx, args[2:])
	case "send":
		return cli.send(ctx, args[2:])
	case "status":
		return cli.status(ctx, args[2:])
	case "migrate":
		if err := cli.migrate(ctx); err != nil {
			return err
		}
		fmt.Fprintln(cli.out, "migrations applied")
		return nil
	default:
		cli.printUsage()
		return errHelp
	}
}

func (cli *commandLine) newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(cli.out)
	return fs
}

func (cli *commandLine) tick(ctx context.Context, args []string) error {
	tickCmd := cli.newFlagSet("tick")
	at := tickCmd.String("at", "", "Evaluate the windows as if it were this RFC3339 instant (default: now).")
	if err := tickCmd.Parse(args); err != nil {
		return errHelp
	}

	now := cli.now()
	if *at != "" {
		parsed, err := time.Parse(time.RFC3339, *at)
		if err != nil {
			return fmt.Errorf("-at must be RFC3339: %w", err)
		}
		now = parsed
	}

	svc, err := cli.services(ctx)
	if err != nil {
		return err
	}

	result, err := svc.ticker.RunTick(ctx, now)
	for _, o := range result.Outcomes {
		printOutcome(cli.out, o)
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(cli.out, "tick %s at %s: %d webinar(s), %d sent, %d failed, %d skipped\n",
		result.RunID, result.At.Format(time.RFC3339), len(result.Outcomes), result.Sent, result.Failed, result.Skipped)
	return nil
}

func (cli *commandLine) send(ctx context.Context, args []string) error {
	sendCmd := cli.newFlagSet("send")
	webinar := sendCmd.String("webinar", "", "The webinar id or slug.")
	kind := sendCmd.String("kind", "", "CONFIRMATION, PRE_EVENT, LIVE_NOW or RECORDING_AVAILABLE.")
	dryRun := sendCmd.Bool("dry-run", false, "Count recipients without sending or marking.")
	force := sendCmd.Bool("force", false, "Send even if already sent and overwrite the marker.")
	date := sendCmd.String("date", "", "Occurrence date override (YYYY-MM-DD).")
	if err := sendCmd.Parse(args); err != nil {
		return errHelp
	}
	if strings.TrimSpace(*webinar) == "" || strings.TrimSpace(*kind) == "" {
		sendCmd.Usage()
		return errHelp
	}
	if *dryRun && *force {
		return fmt.Errorf("-dry-run and -force are mutually exclusive")
	}

	parsedKind, err := domain.ParseReminderKind(*kind)
	if err != nil {
		return err
	}

	svc, err := cli.services(ctx)
	if err != nil {
		return err
	}

	outcome, err := svc.reminders.Send(ctx, service.SendRequest{
		WebinarRef:     *webinar,
		Kind:           parsedKind,
		DryRun:         *dryRun,
		Force:          *force,
		OccurrenceDate: *date,
	})
	if err != nil {
		return err
	}

	printOutcome(cli.out, outcome)
	return nil
}

func (cli *commandLine) status(ctx context.Context, args []string) error {
	statusCmd := cli.newFlagSet("status")
	webinar := statusCmd.String("webinar", "", "The webinar id or slug.")
	if err := statusCmd.Parse(args); err != nil {
		return errHelp
	}
	if strings.TrimSpace(*webinar) == "" {
		statusCmd.Usage()
		return errHelp
	}

	svc, err := cli.services(ctx)
	if err != nil {
		return err
	}

	st, err := svc.reminders.Status(ctx, *webinar)
	if err != nil {
		return err
	}

	w := st.Webinar
	fmt.Fprintf(cli.out, "%s (%s) starts %s, active=%t\n", w.Title, w.Slug, w.StartsAt.UTC().Format(time.RFC3339), w.IsActive)
	if len(st.Dispatches) == 0 {
		fmt.Fprintln(cli.out, "no reminders dispatched")
		return nil
	}

	tw := tabwriter.NewWriter(cli.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KIND\tDATE\tSTATUS\tSOURCE\tATTEMPT\tSENT\tFAILED")
	for _, d := range st.Dispatches {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%d\n",
			d.Kind, d.OccurrenceDate, d.Status, d.Source, d.Attempt, d.SuccessCount, d.FailedCount)
	}
	return tw.Flush()
}

func printOutcome(out io.Writer, o domain.Outcome) {
	if o.Skipped() {
		fmt.Fprintf(out, "%s %s: skipped (%s), %d recipient(s)\n", o.WebinarID, o.Kind, o.SkipReason, o.Recipients)
		return
	}
	fmt.Fprintf(out, "%s %s: %d sent, %d failed of %d\n", o.WebinarID, o.Kind, o.Success, o.Failed, o.Recipients)
}
