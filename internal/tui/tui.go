// Package tui は同期エンジンのターミナル表示層を提供する。
// エンジンのViewを購読して一覧と合計を描画し、インラインフォームから支出を追記する。
package tui

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/hitoshi/tripledger/internal/ledger"
	"github.com/hitoshi/tripledger/internal/model"
)

// Ledger はTUIが必要とする同期エンジンのインターフェース。ledger.Engineが実装する。
type Ledger interface {
	View() ledger.View
	Watch() (<-chan ledger.View, func())
	Append(ctx context.Context, draft model.ExpenseDraft) error
}

// viewMsg はエンジンから受け取った新しいView。
type viewMsg ledger.View

// watchClosedMsg はエンジンのView配信が終了したことを表す。
type watchClosedMsg struct{}

// appendDoneMsg は追記の結果。
type appendDoneMsg struct{ err error }

// フォームのフォーカス位置
const (
	focusAmount = iota
	focusDescription
	focusCurrency
	focusCount
)

const (
	defaultWidth  = 80
	defaultHeight = 24
)

var (
	addKey    = key.NewBinding(key.WithKeys("a"), key.WithHelp("a", "追加"))
	quitKey   = key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "終了"))
	submitKey = key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "送信"))
	nextKey   = key.NewBinding(key.WithKeys("tab"), key.WithHelp("tab", "次の項目"))
	prevKey   = key.NewBinding(key.WithKeys("shift+tab"))
	toggleKey = key.NewBinding(key.WithKeys(" ", "left", "right"), key.WithHelp("space", "通貨切替"))
	cancelKey = key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "取消"))
)

// expenseItem はmodel.Expenseをlist.Itemに適合させる。
type expenseItem struct {
	expense model.Expense
}

func (i expenseItem) Title() string       { return i.expense.Description }
func (i expenseItem) Description() string { return "" }
func (i expenseItem) FilterValue() string { return i.expense.Description }

// expenseDelegate は1行1レコードで描画するデリゲート。
type expenseDelegate struct{}

func (d expenseDelegate) Height() int                         { return 1 }
func (d expenseDelegate) Spacing() int                        { return 0 }
func (d expenseDelegate) Update(tea.Msg, *list.Model) tea.Cmd { return nil }
func (d expenseDelegate) Render(w io.Writer, m list.Model, index int, item list.Item) {
	it, ok := item.(expenseItem)
	if !ok {
		return
	}
	prefix := "  "
	if index == m.Index() {
		prefix = accentStyle.Render("> ")
	}
	fmt.Fprintln(w, prefix+renderExpense(it.expense))
}

// renderExpense は1レコードの表示文字列を返す。
func renderExpense(e model.Expense) string {
	amount := fmt.Sprintf("%s %s", e.Amount.String(), e.Currency)
	if e.Pending() {
		return fmt.Sprintf("%s %s  %s", pendingStyle.Render("…"), amount, e.Description)
	}
	return fmt.Sprintf("%s %s  %s  %s",
		successStyle.Render("✔"), amount, e.Description,
		mutedStyle.Render(e.CreatedAt.Local().Format("01/02 15:04")),
	)
}

// Model はBubble TeaのModel実装。
type Model struct {
	ctx     context.Context
	ledger  Ledger
	updates <-chan ledger.View

	view    ledger.View
	list    list.Model
	spinner spinner.Model

	adding      bool
	focus       int
	amount      textinput.Model
	description textinput.Model
	currencies  []model.Currency
	currencyIdx int
	submitting  bool
	formErr     string
	notice      string
}

// New は新しいModelを生成する。updatesはLedger.Watchの戻り値を渡す。
// defaultCurrencyがサポート外の場合は先頭の通貨を選択する。
func New(ctx context.Context, l Ledger, updates <-chan ledger.View, defaultCurrency model.Currency) Model {
	lst := list.New(nil, expenseDelegate{}, defaultWidth-4, defaultHeight-10)
	lst.SetShowTitle(false)
	lst.SetShowHelp(false)
	lst.SetShowStatusBar(true)
	lst.SetFilteringEnabled(false)
	lst.SetStatusBarItemName("件", "件")
	lst.Styles.PaginationStyle = helpStyle

	amount := textinput.New()
	amount.Prompt = "金額 > "
	amount.Placeholder = "5200"
	amount.CharLimit = 32

	description := textinput.New()
	description.Prompt = "内容 > "
	description.Placeholder = "日光東照宮門票"
	description.CharLimit = 200

	currencies := model.Currencies()
	idx := 0
	for i, c := range currencies {
		if c == defaultCurrency {
			idx = i
		}
	}

	m := Model{
		ctx:         ctx,
		ledger:      l,
		updates:     updates,
		list:        lst,
		spinner:     spinner.New(spinner.WithSpinner(spinner.Dot)),
		amount:      amount,
		description: description,
		currencies:  currencies,
		currencyIdx: idx,
	}
	m.setView(l.View())
	return m
}

// Run はTUIを起動し、終了するまでブロックする。
func Run(ctx context.Context, l Ledger, defaultCurrency model.Currency) error {
	updates, cancel := l.Watch()
	defer cancel()

	p := tea.NewProgram(New(ctx, l, updates, defaultCurrency), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("failed to run tui: %w", err)
	}
	return nil
}

// Init はView購読とスピナーを開始する。
func (m Model) Init() tea.Cmd {
	return tea.Batch(waitForView(m.updates), m.spinner.Tick)
}

// waitForView は次のViewを待つコマンドを返す。
func waitForView(updates <-chan ledger.View) tea.Cmd {
	if updates == nil {
		return nil
	}
	return func() tea.Msg {
		v, ok := <-updates
		if !ok {
			return watchClosedMsg{}
		}
		return viewMsg(v)
	}
}

// appendCmd は追記を実行するコマンドを返す。
func (m Model) appendCmd(draft model.ExpenseDraft) tea.Cmd {
	return func() tea.Msg {
		return appendDoneMsg{err: m.ledger.Append(m.ctx, draft)}
	}
}

func (m *Model) setView(v ledger.View) {
	m.view = v
	items := make([]list.Item, len(v.Records))
	for i, e := range v.Records {
		items[i] = expenseItem{expense: e}
	}
	m.list.SetItems(items)
}

// Update はメッセージに応じて状態を更新する。
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case viewMsg:
		m.setView(ledger.View(msg))
		return m, waitForView(m.updates)
	case watchClosedMsg:
		return m, nil
	case appendDoneMsg:
		m.submitting = false
		if msg.err != nil {
			m.formErr = errorMessage(msg.err)
			return m, nil
		}
		m.closeForm()
		m.notice = "送信しました。同期を待っています。"
		return m, nil
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case tea.WindowSizeMsg:
		m.list.SetSize(msg.Width-4, msg.Height-10)
		return m, nil
	case tea.KeyMsg:
		if m.adding {
			return m.updateForm(msg)
		}
		switch {
		case key.Matches(msg, quitKey), key.Matches(msg, cancelKey):
			return m, tea.Quit
		case key.Matches(msg, addKey):
			return m, m.openForm()
		}
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

// updateForm はフォーム入力中のキー操作を処理する。
func (m Model) updateForm(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.submitting {
		return m, nil
	}

	switch {
	case msg.Type == tea.KeyCtrlC:
		return m, tea.Quit
	case key.Matches(msg, cancelKey):
		m.closeForm()
		return m, nil
	case key.Matches(msg, submitKey):
		m.submitting = true
		m.formErr = ""
		return m, m.appendCmd(m.draft())
	case key.Matches(msg, nextKey):
		return m, m.setFocus((m.focus + 1) % focusCount)
	case key.Matches(msg, prevKey):
		return m, m.setFocus((m.focus + focusCount - 1) % focusCount)
	}

	var cmd tea.Cmd
	switch m.focus {
	case focusAmount:
		m.amount, cmd = m.amount.Update(msg)
	case focusDescription:
		m.description, cmd = m.description.Update(msg)
	case focusCurrency:
		if key.Matches(msg, toggleKey) {
			m.currencyIdx = (m.currencyIdx + 1) % len(m.currencies)
		}
	}
	return m, cmd
}

func (m *Model) openForm() tea.Cmd {
	m.adding = true
	m.formErr = ""
	m.notice = ""
	m.amount.SetValue("")
	m.description.SetValue("")
	return m.setFocus(focusAmount)
}

func (m *Model) closeForm() {
	m.adding = false
	m.submitting = false
	m.formErr = ""
	m.amount.SetValue("")
	m.description.SetValue("")
	m.amount.Blur()
	m.description.Blur()
}

func (m *Model) setFocus(focus int) tea.Cmd {
	m.focus = focus
	m.amount.Blur()
	m.description.Blur()
	switch focus {
	case focusAmount:
		return m.amount.Focus()
	case focusDescription:
		return m.description.Focus()
	}
	return nil
}

func (m Model) currency() model.Currency {
	return m.currencies[m.currencyIdx]
}

func (m Model) draft() model.ExpenseDraft {
	return model.ExpenseDraft{
		Amount:      m.amount.Value(),
		Description: m.description.Value(),
		Currency:    m.currency(),
	}
}

// errorMessage はエラーの表示文字列を返す。SyncErrorの場合はメッセージと対処方法を表示する。
func errorMessage(err error) string {
	var se *model.SyncError
	if errors.As(err, &se) {
		if se.Action != "" {
			return se.Message + " " + se.Action
		}
		return se.Message
	}
	return err.Error()
}

// statusLabel は状態の表示名を返す。
func statusLabel(s ledger.Status) string {
	switch s {
	case ledger.StatusIdle:
		return "初期化中"
	case ledger.StatusSubscribing:
		return "読み込み中"
	case ledger.StatusLive:
		return "同期中"
	case ledger.StatusError:
		return "エラー"
	case ledger.StatusClosed:
		return "切断"
	default:
		return string(s)
	}
}

// View は画面を描画する。
func (m Model) View() string {
	var b strings.Builder

	status := statusLabel(m.view.Status)
	if m.view.Loading {
		status = m.spinner.View() + status
	}
	fmt.Fprintf(&b, "%s   %s\n", titleStyle.Render("Trip Ledger"), mutedStyle.Render(status))
	if m.view.Identity.Degraded {
		b.WriteString(pendingStyle.Render("ローカルIDで動作中です。") + "\n")
	}

	fmt.Fprintf(&b, "%s %s", accentStyle.Render("合計"), m.view.Total.String())
	for _, c := range m.currencies {
		if amount, ok := m.view.TotalsByCurrency[c]; ok {
			fmt.Fprintf(&b, "   %s %s", c, amount.String())
		}
	}
	b.WriteString("\n")

	if m.view.Err != nil {
		b.WriteString(errorStyle.Render(errorMessage(m.view.Err)) + "\n")
	}
	b.WriteString("\n")

	if len(m.view.Records) == 0 {
		b.WriteString(mutedStyle.Render("まだ支出はありません。") + "\n")
	} else {
		b.WriteString(m.list.View() + "\n")
	}

	if m.adding {
		b.WriteString(panelStyle.Render(m.formView()) + "\n")
		b.WriteString(helpStyle.Render(helpLine(submitKey, nextKey, toggleKey, cancelKey)))
	} else {
		if m.notice != "" {
			b.WriteString(successStyle.Render(m.notice) + "\n")
		}
		b.WriteString(helpStyle.Render(helpLine(addKey, quitKey)))
	}

	return panelStyle.Render(b.String())
}

func (m Model) formView() string {
	var b strings.Builder
	b.WriteString("支出を追加\n")
	b.WriteString(m.amount.View() + "\n")
	b.WriteString(m.description.View() + "\n")

	var cs []string
	for i, c := range m.currencies {
		label := string(c)
		if i == m.currencyIdx {
			label = accentStyle.Render("[" + label + "]")
		} else {
			label = mutedStyle.Render(" " + label + " ")
		}
		cs = append(cs, label)
	}
	prompt := "通貨 > "
	if m.focus == focusCurrency {
		prompt = accentStyle.Render(prompt)
	}
	b.WriteString(prompt + strings.Join(cs, " "))

	if m.submitting {
		b.WriteString("\n" + mutedStyle.Render("送信中…"))
	}
	if m.formErr != "" {
		b.WriteString("\n" + errorStyle.Render(m.formErr))
	}
	return b.String()
}

func helpLine(bindings ...key.Binding) string {
	parts := make([]string, 0, len(bindings))
	for _, kb := range bindings {
		h := kb.Help()
		parts = append(parts, h.Key+" "+h.Desc)
	}
	return strings.Join(parts, " • ")
}
