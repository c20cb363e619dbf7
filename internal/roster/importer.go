// Package roster parses uploaded attendee spreadsheets and classifies every
// row exactly once: valid, structurally rejected, duplicate within the file,
// or duplicate against the persisted set. It never writes to the store.
package roster

import (
	"fmt"
	"regexp"
	"strings"
)

// Rejection reasons.
const (
	ReasonInvalidName         = "Invalid Name"
	ReasonMissingRegNo        = "Missing RegNo"
	ReasonInvalidEmail        = "Invalid Email"
	ReasonInvalidPhone        = "Invalid Phone"
	ReasonPaymentNotConfirmed = "Payment not confirmed"
	ReasonDupEmailInFile      = "Duplicate Email in file"
	ReasonDupRegNoInFile      = "Duplicate RegNo in file"
	ReasonEmailRegistered     = "Email already registered"
	ReasonRegNoRegistered     = "RegNo already registered"
)

var (
	// RFC-lite: one @, no whitespace, a dot in the domain.
	emailRe = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	// Digits with optional leading + and common separators, 7-15 digits total.
	phoneRe = regexp.MustCompile(`^\+?[0-9][0-9 ()-]{5,17}[0-9]$`)
)

// Row is one parsed candidate registration.
type Row struct {
	Line  int    `json:"line"`
	Name  string `json:"name"`
	RegNo string `json:"reg_no"`
	Email string `json:"email"`
	Phone string `json:"phone,omitempty"`
}

// RejectedRow pairs a row with its single rejection reason.
type RejectedRow struct {
	Row    Row    `json:"row"`
	Reason string `json:"reason"`
}

// Stats counts the classification outcome of one import batch.
type Stats struct {
	Total            int `json:"total"`
	Accepted         int `json:"accepted"`
	Rejected         int `json:"rejected"`
	Invalid          int `json:"invalid"`
	DuplicateInFile  int `json:"duplicate_in_file"`
	DuplicateInStore int `json:"duplicate_in_store"`
}

// Result is the accept/reject partition of one import batch.
type Result struct {
	Accepted []Row         `json:"valid"`
	Rejected []RejectedRow `json:"rejected"`
	Stats    Stats         `json:"stats"`
}

// Snapshot holds the persisted keys for the target event, fetched once at
// batch start. Lowercased emails; reg numbers verbatim.
type Snapshot struct {
	Emails map[string]struct{}
	RegNos map[string]struct{}
}

// Options configures classification.
type Options struct {
	// AcceptedPaymentStatuses gates the payment-keyed shape; compared
	// case-insensitively. Empty means any non-empty status is accepted.
	AcceptedPaymentStatuses []string
}

// Classify partitions parsed rows. rows[0] must be the header row. The shape
// is chosen by the header: a payment-status column selects the richer shape
// (phone required, status gated); otherwise the minimal shape applies.
func Classify(rows [][]string, snap Snapshot, opts Options) (*Result, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("empty file")
	}
	cols := columnMap(rows[0])
	for _, required := range []string{colName, colRegNo, colEmail} {
		if _, ok := cols[required]; !ok {
			return nil, fmt.Errorf("missing required column: %s", required)
		}
	}
	_, paymentShape := cols[colPayment]
	if paymentShape {
		if _, ok := cols[colPhone]; !ok {
			return nil, fmt.Errorf("missing required column: %s", colPhone)
		}
	}

	res := &Result{}
	seenEmails := make(map[string]struct{})
	seenRegNos := make(map[string]struct{})

	for i, cells := range rows[1:] {
		if blankRow(cells) {
			continue
		}
		row := Row{
			Line:  i + 2, // 1-based, after header
			Name:  cell(cells, cols, colName),
			RegNo: cell(cells, cols, colRegNo),
			Email: cell(cells, cols, colEmail),
			Phone: cell(cells, cols, colPhone),
		}
		res.Stats.Total++

		if reason := validateRow(row, cells, cols, paymentShape, opts); reason != "" {
			res.reject(row, reason)
			res.Stats.Invalid++
			continue
		}

		emailKey := strings.ToLower(row.Email)
		if _, dup := seenEmails[emailKey]; dup {
			res.reject(row, ReasonDupEmailInFile)
			res.Stats.DuplicateInFile++
			continue
		}
		if _, dup := seenRegNos[row.RegNo]; dup {
			res.reject(row, ReasonDupRegNoInFile)
			res.Stats.DuplicateInFile++
			continue
		}

		if _, dup := snap.Emails[emailKey]; dup {
			res.reject(row, ReasonEmailRegistered)
			res.Stats.DuplicateInStore++
			continue
		}
		if _, dup := snap.RegNos[row.RegNo]; dup {
			res.reject(row, ReasonRegNoRegistered)
			res.Stats.DuplicateInStore++
			continue
		}

		seenEmails[emailKey] = struct{}{}
		seenRegNos[row.RegNo] = struct{}{}
		res.Accepted = append(res.Accepted, row)
		res.Stats.Accepted++
	}
	res.Stats.Rejected = len(res.Rejected)
	return res, nil
}

func validateRow(row Row, cells []string, cols map[string]int, paymentShape bool, opts Options) string {
	if len(strings.TrimSpace(row.Name)) < 2 {
		return ReasonInvalidName
	}
	if row.RegNo == "" {
		return ReasonMissingRegNo
	}
	if !emailRe.MatchString(row.Email) {
		return ReasonInvalidEmail
	}
	if paymentShape {
		if !phoneRe.MatchString(row.Phone) {
			return ReasonInvalidPhone
		}
		if !paymentAccepted(cell(cells, cols, colPayment), opts.AcceptedPaymentStatuses) {
			return ReasonPaymentNotConfirmed
		}
	} else if row.Phone != "" && !phoneRe.MatchString(row.Phone) {
		return ReasonInvalidPhone
	}
	return ""
}

func paymentAccepted(status string, accepted []string) bool {
	status = strings.TrimSpace(status)
	if len(accepted) == 0 {
		return status != ""
	}
	for _, a := range accepted {
		if strings.EqualFold(status, a) {
			return true
		}
	}
	return false
}

func (r *Result) reject(row Row, reason string) {
	r.Rejected = append(r.Rejected, RejectedRow{Row: row, Reason: reason})
}

func cell(cells []string, cols map[string]int, col string) string {
	i, ok := cols[col]
	if !ok || i >= len(cells) {
		return ""
	}
	return strings.TrimSpace(cells[i])
}

func blankRow(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
