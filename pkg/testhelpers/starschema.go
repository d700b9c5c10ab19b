package testhelpers

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/portfolio-chat/pkg/catalog"
)

// StarSchemaDDL creates the portfolio warehouse tables. The statements use only
// types shared by PostgreSQL and DuckDB.
var StarSchemaDDL = []string{
	`CREATE TABLE "DimDate" (
		"DateKey" INTEGER PRIMARY KEY,
		"CalendarYear" INTEGER NOT NULL,
		"CalendarQuarter" INTEGER NOT NULL,
		"CalendarMonth" INTEGER NOT NULL
	)`,
	`CREATE TABLE "DimFund" (
		"FundID" INTEGER PRIMARY KEY,
		"FundName" VARCHAR(100) NOT NULL,
		"VintageYear" INTEGER,
		"Strategy" VARCHAR(50),
		"CommittedCapital" FLOAT8
	)`,
	`CREATE TABLE "DimAsset" (
		"AssetID" INTEGER PRIMARY KEY,
		"AssetName" VARCHAR(100) NOT NULL,
		"PropertyType" VARCHAR(50),
		"City" VARCHAR(50),
		"State" VARCHAR(2),
		"AcquisitionDate" DATE,
		"AcquisitionPrice" FLOAT8,
		"NumberOfUnits" INTEGER,
		"TotalSquareFootage" INTEGER,
		"AssetStatus" VARCHAR(20),
		"FundID" INTEGER
	)`,
	`CREATE TABLE "DimLender" (
		"LenderID" INTEGER PRIMARY KEY,
		"LenderName" VARCHAR(100) NOT NULL,
		"LenderType" VARCHAR(20)
	)`,
	`CREATE TABLE "FactAssetOperations" (
		"AssetID" INTEGER NOT NULL,
		"ReportingDateKey" INTEGER NOT NULL,
		"NetOperatingIncome" FLOAT8,
		"TotalRevenue" FLOAT8,
		"OperatingExpenses" FLOAT8,
		"PhysicalOccupancy" FLOAT8
	)`,
	`CREATE TABLE "FactFundPerformance" (
		"FundID" INTEGER NOT NULL,
		"ReportingDateKey" INTEGER NOT NULL,
		"NetIRR" FLOAT8,
		"TVPI" FLOAT8
	)`,
	`CREATE TABLE "FactInvestment" (
		"AssetID" INTEGER NOT NULL,
		"FundID" INTEGER NOT NULL,
		"InvestmentDateKey" INTEGER NOT NULL,
		"InvestmentAmount" FLOAT8
	)`,
	`CREATE TABLE "FactDebtIssued" (
		"AssetID" INTEGER NOT NULL,
		"LenderID" INTEGER NOT NULL,
		"ReportingDateKey" INTEGER NOT NULL,
		"CurrentBalance" FLOAT8,
		"InterestRate" FLOAT8
	)`,
}

// Seed window: monthly facts from January 2023 through February 2025.
var (
	SeedStart = time.Date(2023, time.January, 1, 0, 0, 0, 0, time.UTC)
	SeedEnd   = time.Date(2025, time.February, 1, 0, 0, 0, 0, time.UTC)
)

// MonthlyNOI is the constant monthly NOI seeded for the asset at catalog position i.
// Later assets earn more, so rankings have a known order.
func MonthlyNOI(i int) float64 {
	return 50000 + float64(i)*10000
}

// MonthlyRevenue is the constant monthly revenue of the asset at catalog position i.
func MonthlyRevenue(i int) float64 {
	return MonthlyNOI(i) * 1.6
}

// Occupancy is the occupancy of the asset at catalog position i in month m (1-12).
func Occupancy(i, m int) float64 {
	return 0.85 + float64(i%5)*0.02 + float64(m%3)*0.005
}

// FundIRR is the quarterly net IRR of the fund at catalog position i.
func FundIRR(i int) float64 {
	return 0.08 + float64(i)*0.02
}

// StarSchemaSeed returns INSERT statements populating the schema from the catalog's
// members. Values are deterministic; see MonthlyNOI, Occupancy and FundIRR.
func StarSchemaSeed(cat *catalog.Catalog) ([]string, error) {
	var stmts []string

	for d := SeedStart.AddDate(-1, 0, 0); !d.After(SeedEnd); d = d.AddDate(0, 1, 0) {
		stmts = append(stmts, fmt.Sprintf(`INSERT INTO "DimDate" VALUES (%d, %d, %d, %d)`,
			dateKey(d), d.Year(), (int(d.Month())-1)/3+1, int(d.Month())))
	}

	fund, ok := cat.Entity("fund")
	if !ok {
		return nil, fmt.Errorf("catalog has no fund entity")
	}
	fundIDs := make(map[string]int, len(fund.Members))
	for i, m := range fund.Members {
		id := i + 1
		fundIDs[m.Name] = id
		stmts = append(stmts, fmt.Sprintf(`INSERT INTO "DimFund" VALUES (%d, %s, %s, %s, %d)`,
			id, quote(m.Name), orNull(m.Attributes["vintage_year"], false), orNull(m.Attributes["strategy"], true), 250000000+i*50000000))
		for d := SeedStart; !d.After(SeedEnd); d = d.AddDate(0, 3, 0) {
			stmts = append(stmts, fmt.Sprintf(`INSERT INTO "FactFundPerformance" VALUES (%d, %d, %s, %s)`,
				id, dateKey(d), num(FundIRR(i)), num(1.2+float64(i)*0.15)))
		}
	}

	lender, ok := cat.Entity("lender")
	if !ok {
		return nil, fmt.Errorf("catalog has no lender entity")
	}
	for i, m := range lender.Members {
		stmts = append(stmts, fmt.Sprintf(`INSERT INTO "DimLender" VALUES (%d, %s, %s)`,
			i+1, quote(m.Name), orNull(m.Attributes["lender_type"], true)))
	}

	asset, ok := cat.Entity("asset")
	if !ok {
		return nil, fmt.Errorf("catalog has no asset entity")
	}
	for i, m := range asset.Members {
		id := i + 1
		fundID := "NULL"
		if fid, ok := fundIDs[m.Attributes["fund"]]; ok {
			fundID = fmt.Sprint(fid)
		}
		stmts = append(stmts, fmt.Sprintf(
			`INSERT INTO "DimAsset" ("AssetID", "AssetName", "PropertyType", "City", "State", "AcquisitionDate", "AssetStatus", "FundID") VALUES (%d, %s, %s, %s, %s, %s, 'Active', %s)`,
			id, quote(m.Name),
			orNull(m.Attributes["property_type"], true),
			orNull(m.Attributes["city"], true),
			orNull(m.Attributes["state"], true),
			dateOrNull(m.Attributes["acquisition_date"]),
			fundID))

		for d := SeedStart; !d.After(SeedEnd); d = d.AddDate(0, 1, 0) {
			noi, rev := MonthlyNOI(i), MonthlyRevenue(i)
			stmts = append(stmts, fmt.Sprintf(`INSERT INTO "FactAssetOperations" VALUES (%d, %d, %s, %s, %s, %s)`,
				id, dateKey(d), num(noi), num(rev), num(rev-noi), num(Occupancy(i, int(d.Month())))))
		}

		if fid, ok := fundIDs[m.Attributes["fund"]]; ok {
			stmts = append(stmts, fmt.Sprintf(`INSERT INTO "FactInvestment" VALUES (%d, %d, %d, %d)`,
				id, fid, dateKey(SeedStart), 10000000+i*2500000))
		}

		lenderID := i%len(lender.Members) + 1
		for d := SeedStart; !d.After(SeedEnd); d = d.AddDate(0, 3, 0) {
			stmts = append(stmts, fmt.Sprintf(`INSERT INTO "FactDebtIssued" VALUES (%d, %d, %d, %d, %s)`,
				id, lenderID, dateKey(d), 20000000+i*1000000, num(0.045+float64(i%4)*0.0025)))
		}
	}

	return stmts, nil
}

func dateKey(t time.Time) int {
	return t.Year()*10000 + int(t.Month())*100 + t.Day()
}

func num(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func orNull(s string, text bool) string {
	if s == "" {
		return "NULL"
	}
	if text {
		return quote(s)
	}
	return s
}

func dateOrNull(s string) string {
	if s == "" {
		return "NULL"
	}
	return "DATE " + quote(s)
}

// LoadStarSchema creates and seeds the star schema in db from the default catalog.
func LoadStarSchema(t testing.TB, db *sql.DB) *catalog.Catalog {
	t.Helper()

	cat, err := catalog.LoadDefault()
	require.NoError(t, err)
	rows, err := StarSchemaSeed(cat)
	require.NoError(t, err)

	for _, stmt := range append(append([]string(nil), StarSchemaDDL...), rows...) {
		_, err := db.Exec(stmt)
		require.NoError(t, err, stmt)
	}
	return cat
}
