package main

import (
	"fmt"
	"math/big"
	"net/http"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/raidolabs/raido/models"
	"github.com/raidolabs/raido/registry"
	"github.com/segmentio/encoding/json"
	"github.com/spf13/cobra"
)

type upsertOptions struct {
	ID           string
	Vertices     string
	MinHeight    int64
	MaxHeight    int64
	StartTime    int64
	EndTime      int64
	URL          string
	EntityNumber int64
}

func newUpsertCommand(root *rootOptions) *cobra.Command {
	opts := &upsertOptions{}

	cmd := &cobra.Command{
		Use:   "upsert",
		Short: "Register or update a flight volume",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := volumeID(opts.ID)
			if err != nil {
				return err
			}

			vertices, err := parseVertices(opts.Vertices)
			if err != nil {
				return err
			}

			body := map[string]any{
				"id":            id,
				"vertices":      vertices,
				"min_height":    opts.MinHeight,
				"max_height":    opts.MaxHeight,
				"start_time":    opts.StartTime,
				"end_time":      opts.EndTime,
				"url":           opts.URL,
				"entity_number": opts.EntityNumber,
			}

			var vol models.Volume
			latency, err := root.do(http.MethodPost, "/volumes", body, &vol)
			if err != nil {
				return err
			}
			return printResult(vol, latency)
		},
	}

	cmd.Flags().StringVar(&opts.ID, "id", "", "volume id (0x-prefixed 32 bytes, generated when empty)")
	cmd.Flags().StringVar(&opts.Vertices, "vertices", "", `footprint as JSON [[lat,lng],...] in degrees`)
	cmd.Flags().Int64Var(&opts.MinHeight, "min-height", 0, "lower altitude bound")
	cmd.Flags().Int64Var(&opts.MaxHeight, "max-height", 120, "upper altitude bound")
	cmd.Flags().Int64Var(&opts.StartTime, "start-time", 0, "window start (unix seconds)")
	cmd.Flags().Int64Var(&opts.EndTime, "end-time", 0, "window end (unix seconds)")
	cmd.Flags().StringVar(&opts.URL, "url", "", "off-system detail URL")
	cmd.Flags().Int64Var(&opts.EntityNumber, "entity-number", 0, "entity number")
	cmd.MarkFlagRequired("vertices")

	return cmd
}

func newDeleteCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a flight volume",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			latency, err := root.do(http.MethodDelete, "/volumes/"+args[0], nil, nil)
			if err != nil {
				return err
			}
			return printResult(nil, latency)
		},
	}
}

func newGetCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Fetch a flight volume by id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var vol models.Volume
			latency, err := root.do(http.MethodGet, "/volumes/"+args[0], nil, &vol)
			if err != nil {
				return err
			}
			return printResult(vol, latency)
		},
	}
}

type queryOptions struct {
	Cell      string
	Precision uint
	MinHeight int64
	MaxHeight int64
	StartTime int64
	EndTime   int64
}

func newQueryCommand(root *rootOptions) *cobra.Command {
	opts := &queryOptions{}

	cmd := &cobra.Command{
		Use:   "query",
		Short: "Range query registered volumes over a cell",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := fmt.Sprintf("/query?cell=%s&precision=%d&min_height=%d&max_height=%d&start_time=%d&end_time=%d",
				opts.Cell,
				opts.Precision,
				opts.MinHeight,
				opts.MaxHeight,
				opts.StartTime,
				opts.EndTime,
			)

			var out registry.QueryOut
			latency, err := root.do(http.MethodGet, path, nil, &out)
			if err != nil {
				return err
			}
			return printResult(out, latency)
		},
	}

	cmd.Flags().StringVar(&opts.Cell, "cell", "", "target cell (0x-prefixed, left-aligned)")
	cmd.Flags().UintVar(&opts.Precision, "precision", 0, "target cell precision")
	cmd.Flags().Int64Var(&opts.MinHeight, "min-height", 0, "lower altitude bound")
	cmd.Flags().Int64Var(&opts.MaxHeight, "max-height", 0, "upper altitude bound")
	cmd.Flags().Int64Var(&opts.StartTime, "start-time", 0, "window start (unix seconds)")
	cmd.Flags().Int64Var(&opts.EndTime, "end-time", 0, "window end (unix seconds)")
	cmd.MarkFlagRequired("cell")
	cmd.MarkFlagRequired("precision")

	return cmd
}

// volumeID parses the given id or derives a fresh one.
func volumeID(s string) (models.VolumeID, error) {
	if s == "" {
		u := uuid.New()
		return common.BytesToHash(crypto.Keccak256(u[:])), nil
	}

	b, err := hexutil.Decode(s)
	if err != nil || len(b) != common.HashLength {
		return models.VolumeID{}, errors.New("volume id is malformed").
			WithTag("volume_id", s)
	}
	return common.BytesToHash(b), nil
}

// parseVertices converts a JSON array of [lat, lng] degree pairs into
// fixed-point vertices. Decimal degrees convert exactly.
func parseVertices(s string) ([]models.Vertex, error) {
	var pairs [][2]json.Number
	if err := json.Unmarshal([]byte(s), &pairs); err != nil {
		return nil, errors.New("decoding vertices failed").Wrap(err)
	}

	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

	vertices := make([]models.Vertex, len(pairs))
	for i, p := range pairs {
		lat, err := fixedPoint(p[0].String(), scale)
		if err != nil {
			return nil, err
		}
		lng, err := fixedPoint(p[1].String(), scale)
		if err != nil {
			return nil, err
		}
		vertices[i] = models.Vertex{Lat: lat, Lng: lng}
	}
	return vertices, nil
}

func fixedPoint(degrees string, scale *big.Int) (*big.Int, error) {
	r, ok := new(big.Rat).SetString(degrees)
	if !ok {
		return nil, errors.New("coordinate is malformed").
			WithTag("coordinate", degrees)
	}

	r.Mul(r, new(big.Rat).SetInt(scale))
	return new(big.Int).Quo(r.Num(), r.Denom()), nil
}
