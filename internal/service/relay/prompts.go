package relay

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"fintelligence/internal/models"
)

// MaxPromptChars bounds the document or caller text embedded in a prompt.
const MaxPromptChars = 8000

const bankSummaryPrompt = `You are a financial document parser. Extract banking information from the provided text. Return ONLY valid JSON with this exact structure:
{
  "checking": <number or null>,
  "savings": <number or null>,
  "transactions": [
    { "date": "<date string>", "description": "<description>", "amount": <number>, "type": "<debit|credit>" }
  ]
}
If you cannot find a value, use null. For transactions, extract as many as you can find. Amounts should be positive numbers. Use "debit" for money going out and "credit" for money coming in.`

const brokeragePrompt = `You are simulating a brokerage API response. Generate a realistic-looking portfolio with 5-8 stock holdings. Return ONLY valid JSON with this structure:
{
  "accountName": "<brokerage account name>",
  "accountValue": <total portfolio value number>,
  "cashBalance": <available cash number>,
  "holdings": [
    { "symbol": "<ticker>", "name": "<company name>", "shares": <number>, "avgCost": <number>, "currentPrice": <number>, "marketValue": <number>, "gainLoss": <number>, "gainLossPercent": <number> }
  ]
}
Make it realistic with well-known stocks. Include a mix of tech, healthcare, finance, etc.`

const transactionSchema = `{
  "transactions": [
    { "date": "<date string>", "description": "<description>", "amount": <positive number>, "type": "<debit|credit>", "category": "<category like Food, Transport, Entertainment, Bills, Shopping, Income, etc.>" }
  ],
  "summary": {
    "totalSpent": <number>,
    "totalIncome": <number>,
    "topCategories": [{ "category": "<name>", "amount": <number> }]
  }
}`

var statementTransactionsPrompt = "You are a financial transaction parser. Extract transactions from the provided bank/credit card statement text. Return ONLY valid JSON:\n" +
	transactionSchema +
	"\nExtract as many transactions as you can. Always categorize each one."

var textTransactionsPrompt = "You are a financial transaction parser. Parse the provided text into structured transaction data. Return ONLY valid JSON:\n" +
	transactionSchema +
	"\nParse whatever format the user provides. If dates aren't clear, make reasonable guesses. Always categorize transactions."

const adviceInstructions = "Provide a concise, professional recommendation in markdown format. Include:\n" +
	"1. Portfolio assessment\n" +
	"2. Spending insights (if transaction data available)\n" +
	"3. Market outlook based on news\n" +
	"4. Specific actionable recommendations\n" +
	"5. Risk considerations"

const defaultRisk = "moderate"

// truncate keeps at most max characters of s.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

// lastChars returns the final n characters of s.
func lastChars(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[len(runes)-n:])
}

func jsonPrompt(system, user string) []*models.Message {
	return []*models.Message{
		models.SystemMessage(system),
		models.UserMessage(user),
	}
}

func bankSummaryMessages(text string) []*models.Message {
	return jsonPrompt(bankSummaryPrompt,
		"Parse the following bank statement text and extract the data:\n\n"+truncate(text, MaxPromptChars))
}

func brokerageMessages(keySuffix string) []*models.Message {
	return jsonPrompt(brokeragePrompt,
		"Generate a simulated brokerage portfolio response for API key ending in: ..."+keySuffix)
}

func statementTransactionsMessages(text string) []*models.Message {
	return jsonPrompt(statementTransactionsPrompt,
		"Parse the transactions from this statement:\n\n"+truncate(text, MaxPromptChars))
}

func textTransactionsMessages(text string) []*models.Message {
	return jsonPrompt(textTransactionsPrompt,
		"Parse these transactions:\n\n"+truncate(text, MaxPromptChars))
}

// adviceMessages renders the analyze request as a single narrative user prompt.
// Portfolio and transactions become bullet lines, finances stays compact JSON.
func adviceMessages(req *models.AdviceRequest) []*models.Message {
	var b strings.Builder
	b.WriteString("As a financial advisor, analyze the following comprehensive data and suggest the best path forward:\n\n")
	fmt.Fprintf(&b, "Finances (Checking/Savings): %s\n\n", compactJSON(req.Finances))

	portfolio := req.Portfolio
	if portfolio == nil {
		portfolio = &models.Portfolio{}
	}
	risk := strings.TrimSpace(portfolio.Risk)
	if risk == "" {
		risk = defaultRisk
	}
	if len(portfolio.Holdings) > 0 {
		b.WriteString("Portfolio Holdings:\n")
		for _, h := range portfolio.Holdings {
			fmt.Fprintf(&b, "- %s (%s): %s shares @ $%s, Value: $%s, Gain/Loss: %s%%\n",
				h.Symbol, h.Name, num(h.Shares), num(h.CurrentPrice), num(h.MarketValue), num(h.GainLossPercent))
		}
		fmt.Fprintf(&b, "Total Portfolio Value: $%s\n", num(portfolio.AccountValue))
		fmt.Fprintf(&b, "Cash Balance: $%s\n", num(portfolio.CashBalance))
		fmt.Fprintf(&b, "Risk Tolerance: %s\n\n", risk)
	} else {
		fmt.Fprintf(&b, "Portfolio Value: $%s\n", num(portfolio.Value))
		fmt.Fprintf(&b, "Risk Tolerance: %s\n\n", risk)
	}

	if len(req.Transactions) > 0 {
		b.WriteString("Recent Transactions:\n")
		for _, t := range req.Transactions {
			fmt.Fprintf(&b, "- %s: %s - $%s (%s) [%s]\n",
				orDefault(t.Date, "N/A"), t.Description, num(t.Amount), t.Type, orDefault(t.Category, "Uncategorized"))
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "Latest News Headlines: %s\n\n", strings.Join(req.News, ", "))
	b.WriteString(adviceInstructions)

	return []*models.Message{models.UserMessage(b.String())}
}

func compactJSON(raw json.RawMessage) string {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "null"
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}

func num(n json.Number) string {
	if n == "" {
		return "N/A"
	}
	return n.String()
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
