package route

import "github.com/saas2guys/fingate/domain/principal"

// Provider names. Credentials and base URLs come from configuration.
const (
	ProviderPolygon = "polygon"
	ProviderFMP     = "fmp"
)

var (
	needsOptions      = []principal.Capability{principal.CapOptions}
	needsRealtime     = []principal.Capability{principal.CapRealtime}
	needsFundamentals = []principal.Capability{principal.CapFundamentals}
	needsGlobal       = []principal.Capability{principal.CapGlobal}
	needsTechnical    = []principal.Capability{principal.CapTechnical}
)

func polygon(path string) Target { return Target{Provider: ProviderPolygon, Path: path} }
func fmp(path string) Target     { return Target{Provider: ProviderFMP, Path: path} }

func fmpQ(path string, params map[string]string) Target {
	return Target{Provider: ProviderFMP, Path: path, Params: params}
}

// Table returns the static routing table. The table is fixed per release;
// it is compiled once into a Matcher at startup.
func Table() []Route {
	return []Route{
		// Reference data.
		{Pattern: "reference/tickers", Targets: []Target{fmp("/v3/stock/list"), polygon("/v3/reference/tickers")}, Cache: CacheStatic},
		{Pattern: "reference/ticker/{symbol}", Targets: []Target{fmp("/v3/profile/{symbol}")}, Cache: CacheDaily},
		{Pattern: "reference/ticker/{symbol}/profile", Targets: []Target{fmp("/v3/profile/{symbol}")}, Cache: CacheDaily},
		{Pattern: "reference/ticker/{symbol}/executives", Targets: []Target{fmp("/v3/key-executives/{symbol}")}, Cache: CacheStatic},
		{Pattern: "reference/ticker/{symbol}/peers", Targets: []Target{fmpQ("/v4/stock_peers", map[string]string{"symbol": "{symbol}"})}, Cache: CacheDaily},
		{Pattern: "reference/exchanges", Targets: []Target{polygon("/v3/reference/exchanges"), fmp("/v3/exchanges-list")}, Cache: CacheStatic},
		{Pattern: "reference/market-cap/{symbol}", Targets: []Target{fmp("/v3/market-capitalization/{symbol}")}, Cache: CacheDaily},
		{Pattern: "reference/market-status", Targets: []Target{polygon("/v1/marketstatus/now"), fmp("/v3/is-the-market-open")}, Cache: CacheRealTime},
		{Pattern: "reference/market-holidays", Targets: []Target{polygon("/v1/marketstatus/upcoming")}, Cache: CacheStatic},

		// Quotes. FMP serves consolidated quotes; Polygon keeps the
		// tick-level endpoints it is authoritative for.
		{Pattern: "quotes/{symbol}", Targets: []Target{fmp("/v3/quote/{symbol}")}, Cache: CacheRealTime},
		{Pattern: "quotes/batch/{symbols}", Targets: []Target{fmp("/v3/quote/{symbols}")}, Cache: CacheRealTime},
		{Pattern: "quotes/gainers", Targets: []Target{fmp("/v3/gainers")}, Cache: CacheRealTime},
		{Pattern: "quotes/losers", Targets: []Target{fmp("/v3/losers")}, Cache: CacheRealTime},
		{Pattern: "quotes/most-active", Targets: []Target{fmp("/v3/actives")}, Cache: CacheRealTime},
		{Pattern: "quotes/{symbol}/last-trade", Targets: []Target{polygon("/v2/last/trade/{symbol}")}, Cache: CacheRealTime, Requires: needsRealtime, VariesByTier: true},
		{Pattern: "quotes/{symbol}/last-quote", Targets: []Target{polygon("/v2/last/nbbo/{symbol}")}, Cache: CacheRealTime, Requires: needsRealtime, VariesByTier: true},
		{Pattern: "quotes/{symbol}/previous-close", Targets: []Target{polygon("/v2/aggs/ticker/{symbol}/prev")}, Cache: CacheDaily},

		// Historical prices.
		{Pattern: "historical/{symbol}", Targets: []Target{fmp("/v3/historical-price-full/{symbol}")}, Cache: CacheDaily},
		{Pattern: "historical/{symbol}/intraday/{interval}", Targets: []Target{fmp("/v3/historical-chart/{interval}/{symbol}")}, Cache: CacheIntraday},
		{Pattern: "historical/{symbol}/dividends", Targets: []Target{fmp("/v3/historical-price-full/stock_dividend/{symbol}")}, Cache: CacheDaily},
		{Pattern: "historical/{symbol}/splits", Targets: []Target{fmp("/v3/historical-price-full/stock_split/{symbol}")}, Cache: CacheDaily},
		{Pattern: "historical/grouped/{date}", Targets: []Target{polygon("/v2/aggs/grouped/locale/us/market/stocks/{date}")}, Cache: CacheDaily},

		// Options.
		{Pattern: "options/contracts", Targets: []Target{polygon("/v3/reference/options/contracts")}, Cache: CacheDaily, Requires: needsOptions},
		{Pattern: "options/chain/{symbol}", Targets: []Target{polygon("/v3/snapshot/options/{symbol}")}, Cache: CacheRealTime, Requires: needsOptions},
		{Pattern: "options/{symbol}/greeks", Targets: []Target{polygon("/v3/snapshot/options/{symbol}")}, Cache: CacheRealTime, Requires: needsOptions},
		{Pattern: "options/{symbol}/open-interest", Targets: []Target{polygon("/v3/snapshot/options/{symbol}")}, Cache: CacheRealTime, Requires: needsOptions},
		{Pattern: "options/contract/{contract}", Targets: []Target{polygon("/v3/reference/options/contracts/{contract}")}, Cache: CacheDaily, Requires: needsOptions},

		// Futures.
		{Pattern: "futures/contracts", Targets: []Target{polygon("/v3/reference/futures/contracts")}, Cache: CacheDaily},
		{Pattern: "futures/{symbol}/snapshot", Targets: []Target{polygon("/v3/snapshot/futures/{symbol}")}, Cache: CacheRealTime, Requires: needsRealtime},
		{Pattern: "futures/{symbol}/history", Targets: []Target{polygon("/v2/aggs/ticker/{symbol}/range/1/day/2020-01-01/2030-01-01")}, Cache: CacheDaily},

		// Tick data.
		{Pattern: "ticks/{symbol}/trades", Targets: []Target{polygon("/v3/trades/{symbol}")}, Cache: CacheRealTime, Requires: needsRealtime, VariesByTier: true},
		{Pattern: "ticks/{symbol}/quotes", Targets: []Target{polygon("/v3/quotes/{symbol}")}, Cache: CacheRealTime, Requires: needsRealtime, VariesByTier: true},
		{Pattern: "ticks/{symbol}/aggregates/{interval}/{date}", Targets: []Target{polygon("/v2/aggs/ticker/{symbol}/range/1/{interval}/{date}/{date}")}, Cache: CacheIntraday, Requires: needsRealtime},

		// Fundamentals.
		{Pattern: "fundamentals/{symbol}/income-statement", Targets: []Target{fmp("/v3/income-statement/{symbol}")}, Cache: CacheFundamental, Requires: needsFundamentals},
		{Pattern: "fundamentals/{symbol}/balance-sheet", Targets: []Target{fmp("/v3/balance-sheet-statement/{symbol}")}, Cache: CacheFundamental, Requires: needsFundamentals},
		{Pattern: "fundamentals/{symbol}/cash-flow", Targets: []Target{fmp("/v3/cash-flow-statement/{symbol}")}, Cache: CacheFundamental, Requires: needsFundamentals},
		{Pattern: "fundamentals/{symbol}/ratios", Targets: []Target{fmp("/v3/ratios/{symbol}")}, Cache: CacheFundamental, Requires: needsFundamentals},
		{Pattern: "fundamentals/{symbol}/dcf", Targets: []Target{fmp("/v3/discounted-cash-flow/{symbol}")}, Cache: CacheFundamental, Requires: needsFundamentals},
		{Pattern: "fundamentals/{symbol}/metrics", Targets: []Target{fmp("/v3/key-metrics/{symbol}")}, Cache: CacheFundamental, Requires: needsFundamentals},
		{Pattern: "fundamentals/{symbol}/enterprise-value", Targets: []Target{fmp("/v3/enterprise-values/{symbol}")}, Cache: CacheFundamental, Requires: needsFundamentals},
		{Pattern: "fundamentals/screener", Targets: []Target{fmp("/v3/stock-screener")}, Cache: CacheDaily},

		// News.
		{Pattern: "news", Targets: []Target{fmp("/v3/stock_news")}, Cache: CacheNews},
		{Pattern: "news/{symbol}", Targets: []Target{fmpQ("/v3/stock_news", map[string]string{"tickers": "{symbol}"})}, Cache: CacheNews},
		{Pattern: "news/press-releases", Targets: []Target{fmp("/v3/press-releases")}, Cache: CacheNews},
		{Pattern: "news/{symbol}/press-releases", Targets: []Target{fmp("/v3/press-releases/{symbol}")}, Cache: CacheNews},
		{Pattern: "news/sentiment", Targets: []Target{fmp("/v4/historical/social-sentiment")}, Cache: CacheNews},

		// Analyst coverage.
		{Pattern: "analysts/{symbol}/estimates", Targets: []Target{fmp("/v3/analyst-estimates/{symbol}")}, Cache: CacheDaily},
		{Pattern: "analysts/{symbol}/recommendations", Targets: []Target{fmp("/v3/analyst-stock-recommendations/{symbol}")}, Cache: CacheDaily},
		{Pattern: "analysts/{symbol}/price-targets", Targets: []Target{fmpQ("/v4/price-target", map[string]string{"symbol": "{symbol}"})}, Cache: CacheDaily},
		{Pattern: "analysts/{symbol}/upgrades-downgrades", Targets: []Target{fmpQ("/v4/upgrades-downgrades", map[string]string{"symbol": "{symbol}"})}, Cache: CacheDaily},

		// Earnings.
		{Pattern: "earnings/calendar", Targets: []Target{fmp("/v3/earning_calendar")}, Cache: CacheDaily},
		{Pattern: "earnings/{symbol}/transcripts", Targets: []Target{fmp("/v4/batch_earning_call_transcript/{symbol}")}, Cache: CacheFundamental, Requires: needsFundamentals},
		{Pattern: "earnings/{symbol}/history", Targets: []Target{fmp("/v3/historical/earning_calendar/{symbol}")}, Cache: CacheFundamental},
		{Pattern: "earnings/{symbol}/surprises", Targets: []Target{fmp("/v3/earnings-surprises/{symbol}")}, Cache: CacheFundamental},

		// Corporate events.
		{Pattern: "events/ipo-calendar", Targets: []Target{fmp("/v3/ipo_calendar")}, Cache: CacheDaily},
		{Pattern: "events/stock-split-calendar", Targets: []Target{fmp("/v3/stock_split_calendar")}, Cache: CacheDaily},
		{Pattern: "events/dividend-calendar", Targets: []Target{fmp("/v3/stock_dividend_calendar")}, Cache: CacheDaily},

		// Institutional holdings.
		{Pattern: "institutional/{symbol}/13f", Targets: []Target{fmp("/v3/form-thirteen/{symbol}")}, Cache: CacheFundamental, Requires: needsFundamentals},
		{Pattern: "institutional/{symbol}/holders", Targets: []Target{fmp("/v3/institutional-holder/{symbol}")}, Cache: CacheFundamental, Requires: needsFundamentals},
		{Pattern: "institutional/{symbol}/insider-trading", Targets: []Target{fmpQ("/v4/insider-trading", map[string]string{"symbol": "{symbol}"})}, Cache: CacheDaily, Requires: needsFundamentals},

		// Macro.
		{Pattern: "economy/gdp", Targets: []Target{fmpQ("/v4/economic", map[string]string{"name": "GDP"})}, Cache: CacheFundamental},
		{Pattern: "economy/inflation", Targets: []Target{fmpQ("/v4/economic", map[string]string{"name": "CPI"})}, Cache: CacheFundamental},
		{Pattern: "economy/unemployment", Targets: []Target{fmpQ("/v4/economic", map[string]string{"name": "unemploymentRate"})}, Cache: CacheFundamental},
		{Pattern: "economy/interest-rates", Targets: []Target{fmpQ("/v4/economic", map[string]string{"name": "federalFunds"})}, Cache: CacheFundamental},
		{Pattern: "economy/treasury-rates", Targets: []Target{fmp("/v4/treasury")}, Cache: CacheDaily},

		// Funds.
		{Pattern: "etf/list", Targets: []Target{fmp("/v3/etf/list")}, Cache: CacheStatic},
		{Pattern: "etf/{symbol}/holdings", Targets: []Target{fmp("/v3/etf-holder/{symbol}")}, Cache: CacheDaily},
		{Pattern: "etf/{symbol}/performance", Targets: []Target{fmpQ("/v4/etf-info", map[string]string{"symbol": "{symbol}"})}, Cache: CacheDaily},
		{Pattern: "mutual-funds/list", Targets: []Target{fmp("/v3/mutual-fund/list")}, Cache: CacheStatic},

		// Commodities.
		{Pattern: "commodities/metals", Targets: []Target{fmp("/v3/quotes/commodity")}, Cache: CacheRealTime, Requires: needsGlobal},
		{Pattern: "commodities/energy", Targets: []Target{fmp("/v3/quotes/commodity")}, Cache: CacheRealTime, Requires: needsGlobal},
		{Pattern: "commodities/agricultural", Targets: []Target{fmp("/v3/quotes/commodity")}, Cache: CacheRealTime, Requires: needsGlobal},
		{Pattern: "commodities/{symbol}/historical", Targets: []Target{fmp("/v3/historical-price-full/{symbol}")}, Cache: CacheDaily, Requires: needsGlobal},

		// Crypto.
		{Pattern: "crypto/list", Targets: []Target{fmp("/v3/quotes/crypto")}, Cache: CacheRealTime, Requires: needsGlobal},
		{Pattern: "crypto/{symbol}", Targets: []Target{fmp("/v3/quote/{symbol}")}, Cache: CacheRealTime, Requires: needsGlobal},
		{Pattern: "crypto/{symbol}/historical", Targets: []Target{fmp("/v3/historical-price-full/{symbol}")}, Cache: CacheDaily, Requires: needsGlobal},

		// International and FX.
		{Pattern: "international/exchanges", Targets: []Target{fmp("/v3/exchanges-list")}, Cache: CacheStatic, Requires: needsGlobal},
		{Pattern: "international/{exchange}/tickers", Targets: []Target{fmpQ("/v3/symbol/available-indexes", map[string]string{"exchange": "{exchange}"})}, Cache: CacheStatic, Requires: needsGlobal},
		{Pattern: "forex/rates", Targets: []Target{fmp("/v3/fx")}, Cache: CacheRealTime, Requires: needsGlobal},
		{Pattern: "forex/{pair}", Targets: []Target{fmp("/v3/historical-price-full/{pair}")}, Cache: CacheDaily, Requires: needsGlobal},

		// SEC filings.
		{Pattern: "sec/{symbol}/filings", Targets: []Target{fmp("/v3/sec_filings/{symbol}")}, Cache: CacheDaily},
		{Pattern: "sec/{symbol}/10k", Targets: []Target{fmpQ("/v3/sec_filings/{symbol}", map[string]string{"type": "10-K"})}, Cache: CacheFundamental},
		{Pattern: "sec/{symbol}/10q", Targets: []Target{fmpQ("/v3/sec_filings/{symbol}", map[string]string{"type": "10-Q"})}, Cache: CacheFundamental},
		{Pattern: "sec/{symbol}/8k", Targets: []Target{fmpQ("/v3/sec_filings/{symbol}", map[string]string{"type": "8-K"})}, Cache: CacheDaily},
		{Pattern: "sec/rss-feed", Targets: []Target{fmp("/v4/rss_feed")}, Cache: CacheNews},

		// Technical indicators. All delegate to the same FMP endpoint
		// with the indicator type pinned as a query parameter.
		{Pattern: "technical/{symbol}/sma/{timespan}", Targets: []Target{fmpQ("/v3/technical_indicator/{timespan}/{symbol}", map[string]string{"type": "SMA"})}, Cache: CacheIntraday, Requires: needsTechnical},
		{Pattern: "technical/{symbol}/ema/{timespan}", Targets: []Target{fmpQ("/v3/technical_indicator/{timespan}/{symbol}", map[string]string{"type": "EMA"})}, Cache: CacheIntraday, Requires: needsTechnical},
		{Pattern: "technical/{symbol}/rsi/{timespan}", Targets: []Target{fmpQ("/v3/technical_indicator/{timespan}/{symbol}", map[string]string{"type": "RSI"})}, Cache: CacheIntraday, Requires: needsTechnical},
		{Pattern: "technical/{symbol}/macd/{timespan}", Targets: []Target{fmpQ("/v3/technical_indicator/{timespan}/{symbol}", map[string]string{"type": "MACD"})}, Cache: CacheIntraday, Requires: needsTechnical},
		{Pattern: "technical/{symbol}/bollinger-bands/{timespan}", Targets: []Target{fmpQ("/v3/technical_indicator/{timespan}/{symbol}", map[string]string{"type": "BBANDS"})}, Cache: CacheIntraday, Requires: needsTechnical},
		{Pattern: "technical/{symbol}/stochastic/{timespan}", Targets: []Target{fmpQ("/v3/technical_indicator/{timespan}/{symbol}", map[string]string{"type": "STOCH"})}, Cache: CacheIntraday, Requires: needsTechnical},
		{Pattern: "technical/{symbol}/adx/{timespan}", Targets: []Target{fmpQ("/v3/technical_indicator/{timespan}/{symbol}", map[string]string{"type": "ADX"})}, Cache: CacheIntraday, Requires: needsTechnical},
		{Pattern: "technical/{symbol}/williams-r/{timespan}", Targets: []Target{fmpQ("/v3/technical_indicator/{timespan}/{symbol}", map[string]string{"type": "WILLR"})}, Cache: CacheIntraday, Requires: needsTechnical},

		// Bulk extracts.
		{Pattern: "bulk/eod-prices", Targets: []Target{fmp("/v4/batch-request-end-of-day-prices")}, Cache: CacheDaily},
		{Pattern: "bulk/fundamentals", Targets: []Target{fmp("/v4/batch-request-financial-statements")}, Cache: CacheFundamental, Requires: needsFundamentals},
		{Pattern: "bulk/insider-trading", Targets: []Target{fmp("/v4/insider-trading-rss-feed")}, Cache: CacheDaily},
	}
}
