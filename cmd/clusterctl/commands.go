package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"text/tabwriter"
	"time"
	"unicode/utf8"

	"github.com/urfave/cli/v2"

	"github.com/dreamware/solvegrid/internal/protocol"
	"github.com/dreamware/solvegrid/internal/transport"
)

// dial overrides how the client reaches the coordinator; nil uses TCP.
var dial func(addr string) (net.Conn, error)

// App creates the CLI application.
func App() *cli.App {
	return &cli.App{
		Name:  "clusterctl",
		Usage: "submit problems to a solvegrid cluster and read their solutions",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "coordinator",
				Aliases: []string{"c"},
				Usage:   "coordinator exchange URL",
				EnvVars: []string{"SOLVEGRID_COORDINATOR_URL"},
				Value:   "http://127.0.0.1:9100/",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "per-exchange timeout",
				Value: 15 * time.Second,
			},
		},
		Commands: []*cli.Command{
			solveCommand(),
			solutionCommand(),
		},
	}
}

func client(c *cli.Context) *transport.HTTPClient {
	opts := []transport.ClientOption{transport.WithTimeout(c.Duration("timeout"))}
	if dial != nil {
		opts = append(opts, transport.WithDial(dial))
	}
	return transport.NewHTTPClient(c.String("coordinator"), opts...)
}

// exchange sends msg and decodes the reply; nil means an empty reply.
func exchange(ctx context.Context, cl *transport.HTTPClient, msg protocol.Message) (protocol.Message, error) {
	raw, err := protocol.Encode(msg)
	if err != nil {
		return nil, err
	}
	out, err := cl.Exchange(ctx, raw)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	return protocol.Decode(out)
}

func solveCommand() *cli.Command {
	return &cli.Command{
		Name:      "solve",
		Usage:     "submit a problem and print its id",
		ArgsUsage: " ",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "type", Aliases: []string{"t"}, Usage: "problem type", Required: true},
			&cli.StringFlag{Name: "data", Aliases: []string{"d"}, Usage: "problem data"},
			&cli.StringFlag{Name: "file", Aliases: []string{"f"}, Usage: "read problem data from `FILE` (- for stdin)"},
			&cli.DurationFlag{Name: "solving-timeout", Usage: "per-task solving timeout, 0 for none"},
		},
		Action: func(c *cli.Context) error {
			data, err := problemData(c)
			if err != nil {
				return err
			}

			reply, err := exchange(c.Context, client(c), &protocol.SolveRequest{
				ProblemType:    c.String("type"),
				SolvingTimeout: protocol.Millis(c.Duration("solving-timeout")),
				Data:           data,
			})
			if err != nil {
				return err
			}
			resp, ok := reply.(*protocol.SolveRequestResponse)
			if !ok {
				return fmt.Errorf("unexpected reply %T", reply)
			}
			if resp.ID == 0 {
				return errors.New("coordinator refused the request")
			}

			fmt.Fprintln(c.App.Writer, resp.ID)
			return nil
		},
	}
}

func problemData(c *cli.Context) ([]byte, error) {
	switch path := c.String("file"); {
	case path != "" && c.IsSet("data"):
		return nil, errors.New("--data and --file are mutually exclusive")
	case path == "-":
		return io.ReadAll(os.Stdin)
	case path != "":
		return os.ReadFile(path)
	default:
		return []byte(c.String("data")), nil
	}
}

func solutionCommand() *cli.Command {
	return &cli.Command{
		Name:      "solution",
		Usage:     "show the solutions of a problem",
		ArgsUsage: "ID",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "wait", Aliases: []string{"w"}, Usage: "poll until every task is final"},
			&cli.DurationFlag{Name: "interval", Usage: "polling interval with --wait", Value: time.Second},
			&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "output format: table, json, raw", Value: "table"},
		},
		Action: func(c *cli.Context) error {
			id, err := strconv.ParseUint(c.Args().First(), 10, 64)
			if err != nil || id == 0 {
				return fmt.Errorf("invalid problem id %q", c.Args().First())
			}

			solutions, err := fetchSolutions(c.Context, client(c), id, c.Bool("wait"), c.Duration("interval"))
			if err != nil {
				return err
			}
			return printSolutions(c.App.Writer, solutions, c.String("output"))
		},
	}
}

// fetchSolutions asks for the solutions of a problem, polling until all of
// them are final when wait is set.
func fetchSolutions(ctx context.Context, cl *transport.HTTPClient, id uint64, wait bool, interval time.Duration) (*protocol.Solutions, error) {
	for {
		reply, err := exchange(ctx, cl, &protocol.SolutionRequest{ID: id})
		if err != nil {
			return nil, err
		}
		if reply == nil {
			return nil, fmt.Errorf("problem %d is unknown to the coordinator", id)
		}
		solutions, ok := reply.(*protocol.Solutions)
		if !ok {
			return nil, fmt.Errorf("unexpected reply %T", reply)
		}
		if !wait || allFinal(solutions) {
			return solutions, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}
	}
}

func allFinal(s *protocol.Solutions) bool {
	if len(s.Solutions) == 0 {
		return false
	}
	for _, sol := range s.Solutions {
		if sol.Type != protocol.SolutionFinal {
			return false
		}
	}
	return true
}

type solutionView struct {
	Type           string `json:"type"`
	Data           string `json:"data"`
	TaskID         uint64 `json:"task_id"`
	ComputeMillis  uint64 `json:"compute_ms"`
	TimeoutOccured bool   `json:"timeout_occurred"`
}

type solutionsView struct {
	ProblemType string         `json:"problem_type"`
	Solutions   []solutionView `json:"solutions"`
	ID          uint64         `json:"id"`
}

func newSolutionsView(s *protocol.Solutions) solutionsView {
	view := solutionsView{ProblemType: s.ProblemType, ID: s.ID, Solutions: []solutionView{}}
	for _, sol := range s.Solutions {
		view.Solutions = append(view.Solutions, solutionView{
			Type:           string(sol.Type),
			Data:           printable(sol.Data),
			TaskID:         sol.TaskID,
			ComputeMillis:  sol.ComputationsTime,
			TimeoutOccured: sol.TimeoutOccured,
		})
	}
	return view
}

func printSolutions(w io.Writer, s *protocol.Solutions, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(newSolutionsView(s))
	case "raw":
		if !allFinal(s) {
			return fmt.Errorf("problem %d is not final", s.ID)
		}
		_, err := w.Write(s.Solutions[0].Data)
		return err
	case "table":
	default:
		return fmt.Errorf("unknown output format %q", format)
	}

	fmt.Fprintf(w, "problem %d (%s)\n", s.ID, s.ProblemType)
	if len(s.Solutions) == 0 {
		fmt.Fprintln(w, "not divided yet")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TASK\tTYPE\tTIME\tTIMEOUT\tDATA")
	for _, sol := range s.Solutions {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%t\t%s\n",
			sol.TaskID, sol.Type, protocol.Duration(sol.ComputationsTime), sol.TimeoutOccured, printable(sol.Data))
	}
	return tw.Flush()
}

// printable shows text payloads as is and anything else as base64.
func printable(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	return base64.StdEncoding.EncodeToString(b)
}
