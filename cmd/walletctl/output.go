package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/Klingon-tech/klingnet-wallet/internal/ledger"
	"github.com/Klingon-tech/klingnet-wallet/internal/reconcile"
	"github.com/Klingon-tech/klingnet-wallet/internal/registry"
	"github.com/Klingon-tech/klingnet-wallet/pkg/types"
)

type walletView struct {
	ID        ledger.ID `json:"id"`
	Owner     string    `json:"owner_id"`
	Currency  string    `json:"currency"`
	Name      string    `json:"name"`
	Address   string    `json:"address"`
	Balance   *string   `json:"balance"`
	Connected bool      `json:"connected"`
	CreatedAt time.Time `json:"created_at"`
}

func viewWallet(w *registry.Wallet) walletView {
	v := walletView{
		ID:        w.ID,
		Owner:     w.OwnerID,
		Currency:  w.Currency,
		Name:      w.Name,
		Address:   w.Address.Hex(),
		Connected: w.IsConnected,
		CreatedAt: w.CreatedAt,
	}
	if w.Balance != nil {
		s := types.FormatAmount(*w.Balance)
		v.Balance = &s
	}
	return v
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (a *app) printWallet(w *registry.Wallet) error {
	v := viewWallet(w)
	if a.output == "json" {
		return writeJSON(a.out, v)
	}
	fmt.Fprintf(a.out, "ID:        %s\n", v.ID)
	fmt.Fprintf(a.out, "Name:      %s\n", v.Name)
	fmt.Fprintf(a.out, "Address:   %s\n", v.Address)
	fmt.Fprintf(a.out, "Currency:  %s\n", v.Currency)
	fmt.Fprintf(a.out, "Balance:   %s\n", balanceText(v))
	fmt.Fprintf(a.out, "Connected: %t\n", v.Connected)
	return nil
}

func (a *app) printWallets(ws []*registry.Wallet) error {
	views := make([]walletView, 0, len(ws))
	for _, w := range ws {
		views = append(views, viewWallet(w))
	}
	if a.output == "json" {
		return writeJSON(a.out, views)
	}
	if len(views) == 0 {
		fmt.Fprintln(a.out, "No wallets.")
		return nil
	}
	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tADDRESS\tBALANCE\tCONNECTED")
	for _, v := range views {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\n", v.ID, v.Name, v.Address, balanceText(v), v.Connected)
	}
	return tw.Flush()
}

func balanceText(v walletView) string {
	if v.Balance == nil {
		return "-"
	}
	return *v.Balance + " " + v.Currency
}

func (a *app) printTransaction(tx *ledger.Transaction) error {
	if a.output == "json" {
		return writeJSON(a.out, tx)
	}
	fmt.Fprintf(a.out, "ID:      %s\n", tx.ID)
	fmt.Fprintf(a.out, "Type:    %s\n", tx.Type)
	fmt.Fprintf(a.out, "Amount:  %s\n", types.FormatAmount(tx.Amount))
	fmt.Fprintf(a.out, "From:    %s\n", tx.FromAddress)
	fmt.Fprintf(a.out, "To:      %s\n", tx.ToAddress)
	fmt.Fprintf(a.out, "Hash:    %s\n", tx.TxHash)
	fmt.Fprintf(a.out, "Status:  %s\n", tx.Status)
	return nil
}

func (a *app) printHistory(txs []ledger.Transaction) error {
	if a.output == "json" {
		if txs == nil {
			txs = []ledger.Transaction{}
		}
		return writeJSON(a.out, txs)
	}
	if len(txs) == 0 {
		fmt.Fprintln(a.out, "No transactions.")
		return nil
	}
	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tTYPE\tAMOUNT\tCOUNTERPARTY\tSTATUS\tHASH")
	for _, tx := range txs {
		counterparty := tx.ToAddress
		if tx.Type == ledger.TxReceive {
			counterparty = tx.FromAddress
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			tx.CreatedAt.Local().Format("2006-01-02 15:04"), tx.Type,
			types.FormatAmount(tx.Amount), counterparty, tx.Status, tx.TxHash)
	}
	return tw.Flush()
}

type reconcileView struct {
	Report  reconcile.Report  `json:"report"`
	Pending []reconcile.Entry `json:"pending,omitempty"`
}

func (a *app) printReconcile(rep reconcile.Report, pending []reconcile.Entry) error {
	if a.output == "json" {
		return writeJSON(a.out, reconcileView{Report: rep, Pending: pending})
	}
	fmt.Fprintf(a.out, "Recorded:        %d\n", rep.Recorded)
	fmt.Fprintf(a.out, "Already present: %d\n", rep.AlreadyPresent)
	fmt.Fprintf(a.out, "Dropped:         %d\n", rep.Dropped)
	fmt.Fprintf(a.out, "Remaining:       %d\n", rep.Remaining)
	if len(pending) == 0 {
		return nil
	}
	fmt.Fprintln(a.out)
	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "WALLET\tKIND\tTYPE\tHASH\tATTEMPTS\tLAST ERROR")
	for _, e := range pending {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n", e.WalletID, e.Kind, e.Type, e.TxHash.Hex(), e.Attempts, e.LastError)
	}
	return tw.Flush()
}
