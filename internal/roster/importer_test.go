package roster

import (
	"strings"
	"testing"
)

func classifyCSV(t *testing.T, csv string, snap Snapshot, opts Options) *Result {
	t.Helper()
	rows, err := ParseTable([]byte(csv), "roster.csv")
	if err != nil {
		t.Fatalf("ParseTable: %v", err)
	}
	res, err := Classify(rows, snap, opts)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	return res
}

func emptySnapshot() Snapshot {
	return Snapshot{Emails: map[string]struct{}{}, RegNos: map[string]struct{}{}}
}

func reasonOf(t *testing.T, res *Result, regNo string) string {
	t.Helper()
	for _, r := range res.Rejected {
		if r.Row.RegNo == regNo {
			return r.Reason
		}
	}
	t.Fatalf("no rejected row with reg_no %q", regNo)
	return ""
}

func TestClassifyMinimalShape(t *testing.T) {
	csv := strings.Join([]string{
		"Name,RegNo,Email",
		"Asha Rao,R001,asha@example.com",
		"X,R002,short@example.com",
		"Vik Shah,,vik@example.com",
		"Meera Nair,R004,not-an-email",
		"Dup Email,R005,asha@example.com",
		"Dup RegNo,R001,dupregno@example.com",
	}, "\n")

	res := classifyCSV(t, csv, emptySnapshot(), Options{})

	if res.Stats.Total != 6 {
		t.Fatalf("total = %d, want 6", res.Stats.Total)
	}
	if len(res.Accepted) != 1 || res.Accepted[0].RegNo != "R001" {
		t.Fatalf("accepted = %+v, want only R001", res.Accepted)
	}
	if res.Stats.Accepted != 1 || res.Stats.Rejected != 5 {
		t.Fatalf("stats = %+v", res.Stats)
	}
	if got := reasonOf(t, res, "R002"); got != ReasonInvalidName {
		t.Errorf("R002 reason = %q, want %q", got, ReasonInvalidName)
	}
	if got := reasonOf(t, res, ""); got != ReasonMissingRegNo {
		t.Errorf("empty regno reason = %q, want %q", got, ReasonMissingRegNo)
	}
	if got := reasonOf(t, res, "R004"); got != ReasonInvalidEmail {
		t.Errorf("R004 reason = %q, want %q", got, ReasonInvalidEmail)
	}
	if got := reasonOf(t, res, "R005"); got != ReasonDupEmailInFile {
		t.Errorf("R005 reason = %q, want %q", got, ReasonDupEmailInFile)
	}
	// Second R001 row: email is fresh but the reg number was already taken in file.
	for _, r := range res.Rejected {
		if r.Row.Email == "dupregno@example.com" && r.Reason != ReasonDupRegNoInFile {
			t.Errorf("dup regno reason = %q, want %q", r.Reason, ReasonDupRegNoInFile)
		}
	}
	if res.Stats.Invalid != 3 || res.Stats.DuplicateInFile != 2 || res.Stats.DuplicateInStore != 0 {
		t.Errorf("stats breakdown = %+v", res.Stats)
	}
}

func TestClassifyEmailDupIsCaseInsensitive(t *testing.T) {
	csv := strings.Join([]string{
		"Name,RegNo,Email",
		"Asha Rao,R001,Asha@Example.COM",
		"Asha Again,R002,asha@example.com",
	}, "\n")
	res := classifyCSV(t, csv, emptySnapshot(), Options{})
	if len(res.Accepted) != 1 {
		t.Fatalf("accepted = %d, want 1", len(res.Accepted))
	}
	if got := reasonOf(t, res, "R002"); got != ReasonDupEmailInFile {
		t.Errorf("reason = %q, want %q", got, ReasonDupEmailInFile)
	}
}

func TestClassifyAgainstSnapshot(t *testing.T) {
	snap := Snapshot{
		Emails: map[string]struct{}{"known@example.com": {}},
		RegNos: map[string]struct{}{"R100": {}},
	}
	csv := strings.Join([]string{
		"Name,RegNo,Email",
		"Known Email,R001,KNOWN@example.com",
		"Known RegNo,R100,fresh@example.com",
		"Fresh Row,R002,new@example.com",
	}, "\n")
	res := classifyCSV(t, csv, snap, Options{})
	if len(res.Accepted) != 1 || res.Accepted[0].RegNo != "R002" {
		t.Fatalf("accepted = %+v, want only R002", res.Accepted)
	}
	if got := reasonOf(t, res, "R001"); got != ReasonEmailRegistered {
		t.Errorf("R001 reason = %q, want %q", got, ReasonEmailRegistered)
	}
	if got := reasonOf(t, res, "R100"); got != ReasonRegNoRegistered {
		t.Errorf("R100 reason = %q, want %q", got, ReasonRegNoRegistered)
	}
	if res.Stats.DuplicateInStore != 2 {
		t.Errorf("duplicate_in_store = %d, want 2", res.Stats.DuplicateInStore)
	}
}

func TestClassifyReimportIsIdempotent(t *testing.T) {
	csv := strings.Join([]string{
		"Name,RegNo,Email",
		"Asha Rao,R001,asha@example.com",
		"Vik Shah,R002,vik@example.com",
	}, "\n")
	first := classifyCSV(t, csv, emptySnapshot(), Options{})
	if len(first.Accepted) != 2 {
		t.Fatalf("first pass accepted = %d, want 2", len(first.Accepted))
	}

	// Simulate committing the accepted rows, then importing the same file again.
	snap := emptySnapshot()
	for _, row := range first.Accepted {
		snap.Emails[strings.ToLower(row.Email)] = struct{}{}
		snap.RegNos[row.RegNo] = struct{}{}
	}
	second := classifyCSV(t, csv, snap, Options{})
	if len(second.Accepted) != 0 {
		t.Fatalf("second pass accepted = %d, want 0", len(second.Accepted))
	}
	if second.Stats.DuplicateInStore != 2 {
		t.Errorf("second pass duplicate_in_store = %d, want 2", second.Stats.DuplicateInStore)
	}
}

func TestClassifyHeaderAliases(t *testing.T) {
	csv := strings.Join([]string{
		"Full Name,Reg. No,E-mail Address,Mobile No",
		"Asha Rao,R001,asha@example.com,+91 98765 43210",
	}, "\n")
	res := classifyCSV(t, csv, emptySnapshot(), Options{})
	if len(res.Accepted) != 1 {
		t.Fatalf("accepted = %+v, want 1 row", res.Accepted)
	}
	got := res.Accepted[0]
	if got.Name != "Asha Rao" || got.RegNo != "R001" || got.Email != "asha@example.com" || got.Phone != "+91 98765 43210" {
		t.Errorf("row = %+v", got)
	}
}

func TestClassifyMissingRequiredColumn(t *testing.T) {
	rows := [][]string{{"Name", "Email"}, {"Asha Rao", "asha@example.com"}}
	if _, err := Classify(rows, emptySnapshot(), Options{}); err == nil {
		t.Fatal("expected error for missing reg_no column")
	}
}

func TestClassifyPaymentShape(t *testing.T) {
	csv := strings.Join([]string{
		"Name,RegNo,Email,Phone,Payment Status",
		"Asha Rao,R001,asha@example.com,9876543210,captured",
		"Vik Shah,R002,vik@example.com,9876543211,PAID",
		"No Pay,R003,nopay@example.com,9876543212,failed",
		"No Phone,R004,nophone@example.com,,captured",
		"Bad Phone,R005,badphone@example.com,12ab,captured",
	}, "\n")
	opts := Options{AcceptedPaymentStatuses: []string{"captured", "paid"}}
	res := classifyCSV(t, csv, emptySnapshot(), opts)

	if len(res.Accepted) != 2 {
		t.Fatalf("accepted = %+v, want R001 and R002", res.Accepted)
	}
	if got := reasonOf(t, res, "R003"); got != ReasonPaymentNotConfirmed {
		t.Errorf("R003 reason = %q, want %q", got, ReasonPaymentNotConfirmed)
	}
	if got := reasonOf(t, res, "R004"); got != ReasonInvalidPhone {
		t.Errorf("R004 reason = %q, want %q", got, ReasonInvalidPhone)
	}
	if got := reasonOf(t, res, "R005"); got != ReasonInvalidPhone {
		t.Errorf("R005 reason = %q, want %q", got, ReasonInvalidPhone)
	}
}

func TestClassifyPaymentShapeRequiresPhoneColumn(t *testing.T) {
	rows := [][]string{
		{"Name", "RegNo", "Email", "Payment Status"},
		{"Asha Rao", "R001", "asha@example.com", "captured"},
	}
	if _, err := Classify(rows, emptySnapshot(), Options{}); err == nil {
		t.Fatal("expected error: payment shape without phone column")
	}
}

func TestClassifySkipsBlankRowsAndKeepsLineNumbers(t *testing.T) {
	csv := strings.Join([]string{
		"Name,RegNo,Email",
		"Asha Rao,R001,asha@example.com",
		",,",
		"Vik Shah,R002,vik@example.com",
	}, "\n")
	res := classifyCSV(t, csv, emptySnapshot(), Options{})
	if res.Stats.Total != 2 {
		t.Fatalf("total = %d, want 2 (blank row skipped)", res.Stats.Total)
	}
	if res.Accepted[0].Line != 2 || res.Accepted[1].Line != 4 {
		t.Errorf("lines = %d, %d, want 2 and 4", res.Accepted[0].Line, res.Accepted[1].Line)
	}
}

func TestClassifyOptionalPhoneValidatedWhenPresent(t *testing.T) {
	csv := strings.Join([]string{
		"Name,RegNo,Email,Phone",
		"Asha Rao,R001,asha@example.com,",
		"Vik Shah,R002,vik@example.com,notaphone",
	}, "\n")
	res := classifyCSV(t, csv, emptySnapshot(), Options{})
	if len(res.Accepted) != 1 || res.Accepted[0].RegNo != "R001" {
		t.Fatalf("accepted = %+v, want only R001 (empty phone allowed)", res.Accepted)
	}
	if got := reasonOf(t, res, "R002"); got != ReasonInvalidPhone {
		t.Errorf("R002 reason = %q, want %q", got, ReasonInvalidPhone)
	}
}
