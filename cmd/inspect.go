package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"auction-parser/internal/types"
)

func newInspectCmd() *cobra.Command {
	var url string
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Show what the parser finds in each listing block of a page",
		Long: `Fetches a listing page and prints, block by block, which fields were
located and which were missing. Nothing is saved.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer a.Close()

			html, err := a.adapter.GetPageContent(cmd.Context(), url)
			if err != nil {
				return err
			}
			results, err := a.adapter.ParseListingPage(html)
			if err != nil {
				return err
			}

			fmt.Printf("Site: %s\n", a.adapter.GetSiteName())
			fmt.Printf("Listing blocks found: %d\n", len(results))
			counts := map[types.BlockStatus]int{}
			for _, r := range results {
				counts[r.Status]++
				printBlock(r)
			}
			fmt.Printf("\nextracted=%d empty=%d failed=%d\n",
				counts[types.BlockExtracted], counts[types.BlockEmpty], counts[types.BlockFailed])
			return nil
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "Listing page URL")
	_ = cmd.MarkFlagRequired("url")
	return cmd
}

func printBlock(r types.BlockResult) {
	fmt.Printf("\n[%d] %s\n", r.Index+1, r.Status)
	if r.Err != nil {
		fmt.Printf("  error: %v\n", r.Err)
		return
	}
	rec := r.Record
	fmt.Printf("  brand/model: %s / %s\n", rec.Brand, rec.Model)
	fmt.Printf("  lot:         %s\n", deref(rec.LotNumber))
	fmt.Printf("  year:        %s\n", derefInt(rec.Year))
	fmt.Printf("  price:       %s\n", derefInt(rec.Price))
	fmt.Printf("  mileage:     %s\n", derefInt(rec.Mileage))
	fmt.Printf("  engine:      %s\n", deref(rec.EngineVolume))
	fmt.Printf("  auction:     %s\n", deref(rec.AuctionDate))
	fmt.Printf("  images:      %d\n", len(rec.Images))
	if len(r.Missing) > 0 {
		fmt.Printf("  missing:     %s\n", strings.Join(r.Missing, ", "))
	}
	if !rec.Persistable() {
		fmt.Println("  not saved: brand and year are required")
	}
}

func deref(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}

func derefInt(v *int) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprint(*v)
}
