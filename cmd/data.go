package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"auction-parser/store"
)

func newRunsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent parsing runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer a.Close()

			runs, err := a.store.ListRecentRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Println("No runs recorded")
				return nil
			}
			for _, r := range runs {
				line := fmt.Sprintf("%s  %-9s  cars=%d images=%d  %s  %s",
					r.ID, r.Status, r.CarsParsed, r.ImagesParsed,
					r.CreatedAt.Format("2006-01-02 15:04:05"), r.URL)
				if r.ErrorMessage != nil {
					line += "  (" + *r.ErrorMessage + ")"
				}
				fmt.Println(line)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "Number of runs to show")
	return cmd
}

func newClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete every car, image and run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := store.Clear(cmd.Context(), a.store)
			if err != nil {
				return err
			}
			out, _ := json.MarshalIndent(res, "", "  ")
			fmt.Println(string(out))
			return nil
		},
	}
}
