package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"

	"bazaar/internal/game"
	"bazaar/internal/market"
	"bazaar/internal/store"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
)

var (
	stdinReader = bufio.NewReader(os.Stdin)
	accent      = color.New(color.FgCyan, color.Bold)
	success     = color.New(color.FgGreen, color.Bold)
	warn        = color.New(color.FgYellow, color.Bold)
	danger      = color.New(color.FgRed, color.Bold)
	neutral     = color.New(color.FgHiWhite)
)

func printSuccess(msg string) {
	success.Println(msg)
}

func printWarn(msg string) {
	warn.Println(msg)
}

func printError(msg string) {
	danger.Println(msg)
}

func printInfo(msg string) {
	neutral.Println(msg)
}

func promptRequired(label string) (string, error) {
	for {
		fmt.Printf("%s: ", label)
		text, err := stdinReader.ReadString('\n')
		if err != nil {
			return "", err
		}
		text = strings.TrimSpace(text)
		if text != "" {
			return text, nil
		}
		printWarn(label + " is required.")
	}
}

func promptChoice(label string, options []string, defaultValue string) (string, error) {
	normalized := make(map[string]struct{}, len(options))
	for _, opt := range options {
		normalized[strings.ToLower(strings.TrimSpace(opt))] = struct{}{}
	}
	for {
		fmt.Printf("%s (%s) [%s]: ", label, strings.Join(options, "/"), defaultValue)
		text, err := stdinReader.ReadString('\n')
		if err != nil {
			return "", err
		}
		text = strings.ToLower(strings.TrimSpace(text))
		if text == "" {
			text = strings.ToLower(strings.TrimSpace(defaultValue))
		}
		if _, ok := normalized[text]; ok {
			return text, nil
		}
		printWarn("Invalid option. Please pick one of the listed values.")
	}
}

// promptFloat keeps asking until it reads a number strictly above min.
func promptFloat(label string, min float64) (float64, error) {
	for {
		text, err := promptRequired(label)
		if err != nil {
			return 0, err
		}
		v, err := strconv.ParseFloat(text, 64)
		if err != nil {
			printWarn("Enter a valid number.")
			continue
		}
		if v <= min {
			printWarn(fmt.Sprintf("Value must be > %.4f", min))
			continue
		}
		return v, nil
	}
}

func renderAdvance(out game.AdvanceResult) {
	title := fmt.Sprintf("WEEK %d", out.Week)
	if out.Replayed {
		title += " (replayed)"
	}
	accent.Printf("\n== %s ==\n", title)
	renderSummary(out.Summary)
	renderPriceTable(out.Prices)
}

func renderSummary(s market.TickSummary) {
	fmt.Printf("Updated: %d  Rising: %s  Falling: %s  Stable: %d  Forced: %d\n",
		s.Updated,
		success.Sprint(s.Rising),
		danger.Sprint(s.Falling),
		s.Stable,
		s.Forced,
	)
	fmt.Printf("Mean change: %s  Market: %s (up %.0f%% / down %.0f%%)\n",
		colorizePercent(s.MeanChangePct),
		s.Balance.Condition,
		s.Balance.RisingRatio*100,
		s.Balance.FallingRatio*100,
	)
	if len(s.Balance.Interventions) > 0 {
		printWarn("Market intervention: " + strings.Join(s.Balance.Interventions, ", "))
	}
	if s.Failed > 0 {
		printWarn(fmt.Sprintf("%d products kept last week's price after a failed update.", s.Failed))
	}
}

func renderPriceTable(rows []game.PriceRow) {
	if len(rows) == 0 {
		printInfo("No products in this market.")
		return
	}
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Product", "Category", "Price", "Prev", "Base", "Change", "Trend")
	for _, row := range rows {
		table.Append(
			truncate(row.ProductID, 18),
			row.Category,
			money(row.Price),
			money(row.PrevPrice),
			money(row.BasePrice),
			colorizePercent(row.ChangePercent),
			colorizeTrend(row.Trend, row.Strength),
		)
	}
	table.Render()
	fmt.Println()
}

func renderPriceDetail(row game.PriceRow) {
	where := "market"
	if row.Location != "" {
		where = row.Location
	}
	accent.Printf("\n== %s @ %s ==\n", strings.ToUpper(row.ProductID), where)
	fmt.Printf("Category:   %s\n", row.Category)
	fmt.Printf("Price:      %s\n", money(row.Price))
	fmt.Printf("Last week:  %s\n", money(row.PrevPrice))
	fmt.Printf("Base:       %s (%s)\n", money(row.BasePrice), colorizePercent(row.ChangePercent))
	fmt.Printf("Trend:      %s\n", colorizeTrend(row.Trend, row.Strength))
	fmt.Println()
}

func renderHistory(h game.HistoryView) {
	accent.Printf("\n== %s HISTORY (week %d) ==\n", strings.ToUpper(h.ProductID), h.Week)
	if len(h.Prices) == 0 {
		printInfo("No history yet.")
		return
	}
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Week", "Price", "Move")
	first := h.Week - len(h.Prices) + 1
	for i, p := range h.Prices {
		move := ""
		if i > 0 && h.Prices[i-1] != 0 {
			move = colorizePercent((p - h.Prices[i-1]) / h.Prices[i-1] * 100)
		}
		table.Append(strconv.Itoa(first+i), money(p), move)
	}
	table.Render()
	fmt.Println()
}

func renderModifiers(set market.ModifierSet) {
	accent.Println("\n== MARKET MODIFIERS ==")
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Scope", "Key", "Value")
	table.Append("global", "-", factor(set.Global))
	for _, scope := range []struct {
		name   string
		values map[string]float64
	}{
		{"category", set.Categories},
		{"product", set.Products},
		{"location", set.Locations},
	} {
		for _, key := range sortedKeys(scope.values) {
			table.Append(scope.name, key, factor(scope.values[key]))
		}
	}
	for _, loc := range sortedKeys(set.LocationProducts) {
		for _, product := range sortedKeys(set.LocationProducts[loc]) {
			table.Append("location-product", loc+"/"+product, factor(set.LocationProducts[loc][product]))
		}
	}
	table.Render()
	fmt.Println()
}

func renderGames(entries []store.Entry, current string) {
	accent.Println("\n== SAVED GAMES ==")
	if len(entries) == 0 {
		printInfo("No saved games.")
		return
	}
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("", "Session", "Week", "Saved")
	for _, e := range entries {
		mark := ""
		if e.SessionID == current {
			mark = "*"
		}
		table.Append(mark, e.SessionID, strconv.Itoa(e.Week), e.SavedAt.Local().Format("2006-01-02 15:04"))
	}
	table.Render()
	fmt.Println()
}

func decodeInto[T any](in any) (T, error) {
	var out T
	raw, err := json.Marshal(in)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, err
	}
	return out, nil
}

func colorizePercent(v float64) string {
	text := fmt.Sprintf("%+.2f%%", v)
	switch {
	case v > 0:
		return success.Sprint(text)
	case v < 0:
		return danger.Sprint(text)
	default:
		return neutral.Sprint(text)
	}
}

func colorizeTrend(t market.Trend, strength float64) string {
	text := fmt.Sprintf("%s %.0f%%", t, strength*100)
	switch t {
	case market.TrendRising:
		return success.Sprint("▲ " + text)
	case market.TrendFalling:
		return danger.Sprint("▼ " + text)
	default:
		return neutral.Sprint("= " + text)
	}
}

func factor(v float64) string {
	text := fmt.Sprintf("x%.2f", v)
	switch {
	case v > 1:
		return success.Sprint(text)
	case v < 1:
		return danger.Sprint(text)
	default:
		return neutral.Sprint(text)
	}
}

func money(v float64) string {
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	cents := int64(v*100 + 0.5)
	return fmt.Sprintf("%s$%s.%02d", sign, comma(cents/100), cents%100)
}

func comma(v int64) string {
	s := strconv.FormatInt(v, 10)
	if len(s) <= 3 {
		return s
	}
	var b strings.Builder
	pre := len(s) % 3
	if pre > 0 {
		b.WriteString(s[:pre])
		if len(s) > pre {
			b.WriteByte(',')
		}
	}
	for i := pre; i < len(s); i += 3 {
		b.WriteString(s[i : i+3])
		if i+3 < len(s) {
			b.WriteByte(',')
		}
	}
	return b.String()
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
