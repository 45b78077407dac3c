package core

import "testing"

func TestParsePriceToCents(t *testing.T) {
	cases := []struct {
		in  string
		out int64
		ok  bool
	}{
		{"1", 100, true},
		{"1.0", 100, true},
		{"1.23", 123, true},
		{"1,23", 123, true},
		{"0", 0, true},
		{"0.01", 1, true},
		{"1.005", 101, true}, // half-up rounding
		{" 2.50 ", 250, true},
		{"-1", 0, false},
		{"+1", 0, false},
		{"abc", 0, false},
		{"1.2.3", 0, false},
		{"", 0, false},
	}
	for _, tc := range cases {
		got, err := ParsePriceToCents(tc.in)
		if tc.ok {
			if err != nil || got != tc.out {
				t.Fatalf("%q expected %d, got %d (err=%v)", tc.in, tc.out, got, err)
			}
		} else {
			if err == nil {
				t.Fatalf("%q expected error", tc.in)
			}
		}
	}
}

func TestCoercePriceToCents(t *testing.T) {
	if got := CoercePriceToCents("abc"); got != 0 {
		t.Fatalf("invalid input should coerce to 0, got %d", got)
	}
	if got := CoercePriceToCents("-5"); got != 0 {
		t.Fatalf("negative input should coerce to 0, got %d", got)
	}
	if got := CoercePriceToCents("3.99"); got != 399 {
		t.Fatalf("expected 399, got %d", got)
	}
}

func TestMoneyJSON(t *testing.T) {
	m := Money{Cents: 399}
	data, err := m.MarshalJSON()
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "3.99" {
		t.Fatalf("expected 3.99, got %s", data)
	}

	var back Money
	if err := back.UnmarshalJSON([]byte("6.98")); err != nil {
		t.Fatal(err)
	}
	if back.Cents != 698 {
		t.Fatalf("expected 698 cents, got %d", back.Cents)
	}
	if err := back.UnmarshalJSON([]byte(`"2,50"`)); err != nil {
		t.Fatal(err)
	}
	if back.Cents != 250 {
		t.Fatalf("expected 250 cents, got %d", back.Cents)
	}
}

func TestReceiptGrandTotal(t *testing.T) {
	r := Receipt{Items: []ReceiptItem{
		{Name: "Milk", Price: Money{Cents: 399}},
		{Name: "Bread", Price: Money{Cents: 299}, AssignedTo: "person-1"},
	}}
	if got := r.GrandTotal().Cents; got != 698 {
		t.Fatalf("expected 698, got %d", got)
	}
}
