package roster

import "strings"

// Canonical columns a roster may carry.
const (
	colName    = "name"
	colRegNo   = "reg_no"
	colEmail   = "email"
	colPhone   = "phone"
	colPayment = "payment_status"
)

// headerAliases maps normalized header cells to canonical columns. Matching is
// case-insensitive and separator-tolerant: "Reg No", "reg_no" and "regNo" all
// normalize to "regno".
var headerAliases = map[string]string{
	"name":            colName,
	"fullname":        colName,
	"studentname":     colName,
	"attendeename":    colName,
	"participantname": colName,

	"regno":              colRegNo,
	"registrationno":     colRegNo,
	"registrationnumber": colRegNo,
	"regnumber":          colRegNo,
	"rollno":             colRegNo,
	"rollnumber":         colRegNo,
	"enrollmentno":       colRegNo,

	"email":        colEmail,
	"emailid":      colEmail,
	"emailaddress": colEmail,
	"mail":         colEmail,

	"phone":       colPhone,
	"phoneno":     colPhone,
	"phonenumber": colPhone,
	"mobile":      colPhone,
	"mobileno":    colPhone,
	"phno":        colPhone,
	"contact":     colPhone,
	"contactno":   colPhone,
	"whatsapp":    colPhone,

	"paymentstatus": colPayment,
	"payment":       colPayment,
	"paidstatus":    colPayment,
}

func normalizeHeader(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch r {
		case ' ', '_', '-', '.', '/':
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// columnMap resolves a header row to canonical column indexes. The first cell
// matching a canonical column wins; later duplicates are ignored.
func columnMap(header []string) map[string]int {
	cols := make(map[string]int)
	for i, cell := range header {
		canonical, ok := headerAliases[normalizeHeader(cell)]
		if !ok {
			continue
		}
		if _, seen := cols[canonical]; !seen {
			cols[canonical] = i
		}
	}
	return cols
}
