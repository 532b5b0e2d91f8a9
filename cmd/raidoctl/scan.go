package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/raidolabs/raido/ledger"
	"github.com/segmentio/encoding/json"
	"github.com/spf13/cobra"
)

type scanOptions struct {
	From     uint64
	To       uint64
	PageSize uint64
	Follow   bool
	Interval time.Duration
}

type eventsPage struct {
	Events []ledger.Event `json:"events"`
	Head   uint64         `json:"head"`
}

func newScanCommand(root *rootOptions) *cobra.Command {
	opts := &scanOptions{}

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Replay the notification ledger page by page",
		RunE: func(cmd *cobra.Command, args []string) error {
			return scan(root, opts)
		},
	}

	cmd.Flags().Uint64Var(&opts.From, "from", 1, "first sequence number to replay")
	cmd.Flags().Uint64Var(&opts.To, "to", 0, "last sequence number to replay (ledger head when 0)")
	cmd.Flags().Uint64Var(&opts.PageSize, "page-size", 256, "events fetched per request")
	cmd.Flags().BoolVar(&opts.Follow, "follow", false, "keep polling past the head for new events")
	cmd.Flags().DurationVar(&opts.Interval, "interval", time.Second*2, "poll interval with --follow")

	return cmd
}

// The number of consecutively failed pages after which a scan gives up
// instead of walking an unresponsive server forever.
const maxConsecutiveFailures = 5

// scan pages through /events in bounded ranges. A failed page is reported
// and skipped so one bad range does not abort the whole replay; a run of
// failed pages aborts it.
func scan(root *rootOptions, opts *scanOptions) error {
	from := opts.From
	if from == 0 {
		from = 1
	}

	var printed, failed, consecutive int

	for {
		if opts.To != 0 && from > opts.To {
			break
		}

		to := from + opts.PageSize - 1
		if opts.To != 0 && to > opts.To {
			to = opts.To
		}

		var page eventsPage
		if _, err := root.do(http.MethodGet, fmt.Sprintf("/events?from=%d&to=%d", from, to), nil, &page); err != nil {
			logs.WithTag("from", from).
				WithTag("to", to).
				Warn(err)
			failed++
			if consecutive++; consecutive >= maxConsecutiveFailures {
				fmt.Printf("scanned %d events (%d pages failed)\n", printed, failed)
				return errors.New("giving up after consecutive page failures").
					WithTag("failures", consecutive)
			}
			from = to + 1
			continue
		}
		consecutive = 0

		for _, e := range page.Events {
			b, err := json.Marshal(e)
			if err != nil {
				return err
			}
			fmt.Println(string(b))
			printed++
		}

		// Never skip past the head: events above it do not exist yet.
		next := to + 1
		if to > page.Head {
			next = page.Head + 1
		}

		end := page.Head
		if opts.To != 0 && opts.To < end {
			end = opts.To
		}

		if to >= end {
			if opts.Follow && opts.To == 0 {
				time.Sleep(opts.Interval)
				from = next
				continue
			}
			break
		}
		from = next
	}

	fmt.Printf("scanned %d events (%d pages failed)\n", printed, failed)
	return nil
}
