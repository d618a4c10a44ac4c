package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"

	"github.com/joho/godotenv"

	"crypto-learning-engine/internal/database"
)

type strategyStats struct {
	StrategyID    string
	TotalTrades   int
	WinningTrades int
	LosingTrades  int
	TotalPnL      float64
	TotalWins     float64
	TotalLosses   float64
	WinRate       float64
	AvgPnL        float64
}

func main() {
	godotenv.Load()
	godotenv.Load(".env")

	dbPath := flag.String("db", os.Getenv("LEARNING_DB_PATH"), "path to the SQLite trade store")
	days := flag.Int("days", 90, "lookback window in days")
	flag.Parse()

	if *dbPath == "" {
		*dbPath = "learning.db"
	}

	fmt.Println("=" + string(make([]byte, 79)))
	fmt.Println("📊 TRADE HISTORY ANALYSIS")
	fmt.Println("=" + string(make([]byte, 79)))
	fmt.Printf("   Store: %s, last %d days\n", *dbPath, *days)

	db, err := database.NewDB(database.Config{Path: *dbPath})
	if err != nil {
		fmt.Printf("❌ Failed to open database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	repo := database.NewRepository(db)
	ctx := context.Background()

	trades, err := repo.GetRecentTrades(ctx, *days, database.TradeStatusClosed)
	if err != nil {
		fmt.Printf("❌ Failed to load trades: %v\n", err)
		os.Exit(1)
	}

	if len(trades) == 0 {
		fmt.Println("\n❌ No closed trades found")
		return
	}

	byStrategy := make(map[string]*strategyStats)
	for i := range trades {
		t := &trades[i]
		id := t.StrategyID.String
		if id == "" {
			id = "unknown"
		}

		stats, ok := byStrategy[id]
		if !ok {
			stats = &strategyStats{StrategyID: id}
			byStrategy[id] = stats
		}

		pnl := t.PnL()
		stats.TotalTrades++
		stats.TotalPnL += pnl
		if pnl > 0 {
			stats.WinningTrades++
			stats.TotalWins += pnl
		} else if pnl < 0 {
			stats.LosingTrades++
			stats.TotalLosses += pnl
		}
	}

	var sortedStats []*strategyStats
	for _, s := range byStrategy {
		s.WinRate = float64(s.WinningTrades) / float64(s.TotalTrades) * 100
		s.AvgPnL = s.TotalPnL / float64(s.TotalTrades)
		sortedStats = append(sortedStats, s)
	}

	sort.Slice(sortedStats, func(i, j int) bool {
		return sortedStats[i].TotalPnL > sortedStats[j].TotalPnL
	})

	fmt.Println("\n" + "=" + string(make([]byte, 79)))
	fmt.Println("📈 PERFORMANCE BY STRATEGY")
	fmt.Println("=" + string(make([]byte, 79)))

	fmt.Println("┌──────────────────────┬────────┬─────────┬─────────┬──────────────┬──────────────┬──────────┐")
	fmt.Println("│ Strategy             │ Trades │ Winners │ Losers  │ Total PnL    │ Avg PnL      │ Win Rate │")
	fmt.Println("├──────────────────────┼────────┼─────────┼─────────┼──────────────┼──────────────┼──────────┤")

	var grandTotal float64
	var grandTrades, grandWins, grandLosses int

	for _, s := range sortedStats {
		emoji := "🟢"
		if s.TotalPnL < 0 {
			emoji = "🔴"
		}
		fmt.Printf("│ %s %-18s │ %6d │ %7d │ %7d │ %+12.2f │ %+12.2f │ %7.1f%% │\n",
			emoji, truncate(s.StrategyID, 18),
			s.TotalTrades, s.WinningTrades, s.LosingTrades,
			s.TotalPnL, s.AvgPnL, s.WinRate)

		grandTotal += s.TotalPnL
		grandTrades += s.TotalTrades
		grandWins += s.WinningTrades
		grandLosses += s.LosingTrades
	}

	fmt.Println("├──────────────────────┼────────┼─────────┼─────────┼──────────────┼──────────────┼──────────┤")

	grandWinRate := 0.0
	if grandTrades > 0 {
		grandWinRate = float64(grandWins) / float64(grandTrades) * 100
	}
	grandAvg := 0.0
	if grandTrades > 0 {
		grandAvg = grandTotal / float64(grandTrades)
	}
	fmt.Printf("│ 💼 %-18s │ %6d │ %7d │ %7d │ %+12.2f │ %+12.2f │ %7.1f%% │\n",
		"TOTAL", grandTrades, grandWins, grandLosses, grandTotal, grandAvg, grandWinRate)
	fmt.Println("└──────────────────────┴────────┴─────────┴─────────┴──────────────┴──────────────┴──────────┘")

	best := sortedStats[0]
	worst := sortedStats[len(sortedStats)-1]
	fmt.Printf("\n🏆 Best strategy:  %s (%+.2f over %d trades)\n", best.StrategyID, best.TotalPnL, best.TotalTrades)
	if worst != best {
		fmt.Printf("⚠️  Worst strategy: %s (%+.2f over %d trades)\n", worst.StrategyID, worst.TotalPnL, worst.TotalTrades)
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-1] + "…"
}
