package adapters

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"auction-parser/internal/types"
	"auction-parser/utils"

	"github.com/PuerkitoBio/goquery"
)

const (
	// listingBlockSelector matches one auction lot row on a listing page.
	listingBlockSelector = `div[class*="flex flex-col md:table-row-group"]`
	galleryItemSelector  = `a[class*="group h-16 w-20 rounded-md"]`
)

var (
	yearPattern       = regexp.MustCompile(`\d{4}`)
	enginePattern     = regexp.MustCompile(`(\d+)\s*cc`)
	mileagePattern    = regexp.MustCompile(`([\d\s]+)\s*км`)
	backgroundPattern = regexp.MustCompile(`url\(\s*['"]?([^'")]+?)['"]?\s*\)`)
	rubleText         = regexp.MustCompile(`[₽р]`)
)

// JapanTransitAdapter extracts auction lots from japantransit.ru listing pages.
type JapanTransitAdapter struct {
	*BaseAdapter

	lotURLLocators []Locator[string]
}

// NewJapanTransitAdapter creates a new japantransit.ru adapter
func NewJapanTransitAdapter(config *types.Config, logger types.Logger) *JapanTransitAdapter {
	a := &JapanTransitAdapter{
		BaseAdapter: NewBaseAdapter(config, logger),
	}
	a.lotURLLocators = []Locator[string]{
		func(block *goquery.Selection) (string, bool) {
			href, ok := block.Find(`a[href*="/auctions/"]`).First().Attr("href")
			if !ok || strings.TrimSpace(href) == "" {
				return "", false
			}
			return a.ResolveURL(href), true
		},
	}
	return a
}

// GetSiteName returns the site name
func (a *JapanTransitAdapter) GetSiteName() string {
	return "japantransit.ru"
}

// ParseListingPage finds every listing block in html and extracts each one
// independently. A failing block is reported in its BlockResult and never
// aborts the page.
func (a *JapanTransitAdapter) ParseListingPage(html string) ([]types.BlockResult, error) {
	doc, err := a.ParseHTML(html)
	if err != nil {
		return nil, fmt.Errorf("failed to parse listing page: %w", err)
	}

	blocks := doc.Find(listingBlockSelector)
	a.logger.Debugf("Found %d listing blocks", blocks.Length())

	results := make([]types.BlockResult, 0, blocks.Length())
	blocks.Each(func(i int, block *goquery.Selection) {
		res := a.extractBlock(i, block)
		switch res.Status {
		case types.BlockFailed:
			a.logger.Warnf("Block %d skipped: %v", i+1, res.Err)
		default:
			a.logger.Debugf("Block %d: %s %s (missing: %v)", i+1, res.Record.Brand, res.Record.Model, res.Missing)
		}
		results = append(results, res)
	})

	return results, nil
}

// Records returns the candidate records of every block that did not fail.
func Records(results []types.BlockResult) []types.CandidateRecord {
	records := make([]types.CandidateRecord, 0, len(results))
	for _, r := range results {
		if r.Status != types.BlockFailed && r.Record != nil {
			records = append(records, *r.Record)
		}
	}
	return records
}

func (a *JapanTransitAdapter) extractBlock(i int, block *goquery.Selection) (res types.BlockResult) {
	res.Index = i
	defer func() {
		if p := recover(); p != nil {
			res = types.BlockResult{
				Index:  i,
				Status: types.BlockFailed,
				Err:    &ExtractionError{Block: i, Err: fmt.Errorf("panic: %v", p)},
			}
		}
	}()

	record, missing := a.ExtractCar(block)
	res.Record = &record
	res.Missing = missing
	res.Status = types.BlockExtracted
	if len(missing) == len(fieldNames) {
		res.Status = types.BlockEmpty
	}
	return res
}

var fieldNames = []string{
	"lot_number", "brand", "auction_date", "year", "engine_volume",
	"mileage", "price", "lot_url", "images",
}

// ExtractCar resolves every field of one listing block. Fields are located
// independently; the returned slice names the ones that could not be found.
func (a *JapanTransitAdapter) ExtractCar(block *goquery.Selection) (types.CandidateRecord, []string) {
	var (
		car     types.CandidateRecord
		missing []string
	)
	miss := func(field string) { missing = append(missing, field) }

	if lot, ok := FirstMatch(block, lotNumberLocators...); ok {
		car.LotNumber = &lot
	} else {
		miss("lot_number")
	}

	if title, ok := FirstMatch(block, brandModelLocators...); ok {
		car.Brand, car.Model = utils.SplitBrandModel(title)
	}
	if car.Brand == "" {
		miss("brand")
	}

	if date, ok := FirstMatch(block, auctionDateLocators...); ok {
		car.AuctionDate = &date
	} else {
		miss("auction_date")
	}

	if year, ok := FirstMatch(block, yearLocators...); ok {
		car.Year = &year
	} else {
		miss("year")
	}

	if engine, ok := FirstMatch(block, engineLocators...); ok {
		car.EngineVolume = &engine
	} else {
		miss("engine_volume")
	}

	if mileage, ok := FirstMatch(block, mileageLocators...); ok {
		car.Mileage = &mileage
	} else {
		miss("mileage")
	}

	if price, ok := FirstMatch(block, PriceLocators()...); ok {
		car.Price = &price
	} else {
		miss("price")
	}

	if lotURL, ok := FirstMatch(block, a.lotURLLocators...); ok {
		car.LotURL = &lotURL
	} else {
		miss("lot_url")
	}

	car.Images = a.extractImages(block)
	if len(car.Images) == 0 {
		miss("images")
	}

	return car, missing
}

var lotNumberLocators = []Locator[string]{
	func(block *goquery.Selection) (string, bool) {
		label, ok := TextOf("span.font-semibold")(block)
		if !ok {
			return "", false
		}
		lot := utils.DigitsOnly(label)
		return lot, lot != ""
	},
}

var brandModelLocators = []Locator[string]{
	TextOf("div.mt-1.text-sm.font-bold"),
}

var auctionDateLocators = []Locator[string]{
	TextOf("div.text-darkblue"),
}

var yearLocators = []Locator[int]{
	func(block *goquery.Selection) (int, bool) {
		text, ok := TextOf("span.text-red-700")(block)
		if !ok {
			return 0, false
		}
		m := yearPattern.FindString(text)
		if m == "" {
			return 0, false
		}
		year, err := strconv.Atoi(m)
		return year, err == nil
	},
}

var engineLocators = []Locator[string]{
	func(block *goquery.Selection) (string, bool) {
		var volume string
		block.Find("div").EachWithBreak(func(_ int, div *goquery.Selection) bool {
			if !strings.Contains(OwnText(div), "cc") {
				return true
			}
			m := enginePattern.FindStringSubmatch(div.Parent().Text())
			if m == nil {
				return true
			}
			volume = m[1] + " cc"
			return false
		})
		return volume, volume != ""
	},
}

var mileageLocators = []Locator[int]{
	func(block *goquery.Selection) (int, bool) {
		mileage, found := 0, false
		block.Find("div").EachWithBreak(func(_ int, div *goquery.Selection) bool {
			if !strings.Contains(OwnText(div), "км") {
				return true
			}
			text := utils.ReplaceSpaceVariants(strings.TrimSpace(div.Text()))
			m := mileagePattern.FindStringSubmatch(text)
			if m == nil {
				return true
			}
			digits := strings.Join(strings.Fields(m[1]), "")
			mileage, found = utils.ParseBoundedInt(digits, 0, math.MaxInt32)
			return !found
		})
		return mileage, found
	},
}

// PriceLocators returns the price fallback chain, most specific first. The
// site's utility class names change between deploys, so a single selector is
// not enough; the last resort scans text nodes for a ruble sign.
func PriceLocators() []Locator[int] {
	return []Locator[int]{
		priceAt(`div.rounded-full.shadow-lg.shadow-red-800\/40`),
		priceAt(`div.rounded-full.shadow-lg`),
		priceAt(`[class*="rounded-full"][class*="shadow-lg"]`),
		priceFromRubleText,
	}
}

func priceAt(selector string) Locator[int] {
	return func(block *goquery.Selection) (int, bool) {
		el := block.Find(selector).First()
		if el.Length() == 0 {
			return 0, false
		}
		return utils.NormalizePriceText(strings.TrimSpace(el.Text()))
	}
}

func priceFromRubleText(block *goquery.Selection) (int, bool) {
	price, found := 0, false
	EachTextNode(block, func(text string) bool {
		if !rubleText.MatchString(text) {
			return true
		}
		price, found = utils.NormalizePriceText(strings.TrimSpace(text))
		return !found
	})
	return price, found
}

func (a *JapanTransitAdapter) extractImages(block *goquery.Selection) []string {
	var images []string
	block.Find(galleryItemSelector).Each(func(_ int, link *goquery.Selection) {
		style, _ := link.Attr("style")
		m := backgroundPattern.FindStringSubmatch(style)
		if m == nil {
			return
		}
		if src := a.ResolveURL(m[1]); src != "" {
			images = append(images, src)
		}
	})
	return a.RemoveDuplicateURLs(images)
}
