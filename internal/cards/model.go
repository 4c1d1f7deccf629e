package cards

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/yanizio/loungebot/internal/filestore"
)

// legacyNextNumber is kept in the document for older readers.  Allocation no
// longer uses it.
const legacyNextNumber = 4821

// record is the stored shape of one card under by_number.
type record struct {
	UserID        int64   `json:"user_id"`
	Username      string  `json:"username,omitempty"`
	FirstName     string  `json:"first_name,omitempty"`
	LastName      string  `json:"last_name,omitempty"`
	Level         string  `json:"level"`
	Discount      int     `json:"discount"`
	Visits        int     `json:"visits"`
	StaffGold     bool    `json:"staff_gold"`
	StaffLevel    *string `json:"staff_level,omitempty"`
	StaffDiscount *int    `json:"staff_discount,omitempty"`
}

// cardRef is a by_user value.  Old files may hold it as a number.  Null and
// empty values do not decode; filestore.Records keeps them aside.
type cardRef string

func (c *cardRef) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if s = strings.TrimSpace(s); s == "" {
			return errors.New("card ref is empty")
		}
		*c = cardRef(s)
		return nil
	}
	n, err := strconv.Atoi(string(b))
	if err != nil {
		return fmt.Errorf("card ref %s: %w", b, err)
	}
	*c = cardRef(formatNumber(n))
	return nil
}

// Document is the root of level_cards.json.
type Document struct {
	NextNumber int                        `json:"next_number"`
	ByNumber   filestore.Records[record]  `json:"by_number"`
	ByUser     filestore.Records[cardRef] `json:"by_user"`
}

func emptyDocument() *Document {
	return &Document{
		NextNumber: legacyNextNumber,
		ByNumber:   filestore.NewRecords[record](),
		ByUser:     filestore.NewRecords[cardRef](),
	}
}

func normalize(d *Document) {
	if d.NextNumber == 0 {
		d.NextNumber = legacyNextNumber
	}
	if d.ByNumber.Items == nil {
		d.ByNumber = filestore.NewRecords[record]()
	}
	if d.ByUser.Items == nil {
		d.ByUser = filestore.NewRecords[cardRef]()
	}
}

// Card is the read model handed to callers.
type Card struct {
	Number        string `json:"number"`
	UserID        int64  `json:"user_id"`
	Username      string `json:"username,omitempty"`
	FirstName     string `json:"first_name,omitempty"`
	LastName      string `json:"last_name,omitempty"`
	Level         string `json:"level"`
	Discount      int    `json:"discount"`
	Visits        int    `json:"visits"`
	Staff         bool   `json:"staff"`
	StaffLevel    string `json:"staff_level,omitempty"`
	StaffDiscount *int   `json:"staff_discount,omitempty"`
}

func toCard(number string, r *record) Card {
	c := Card{
		Number:    number,
		UserID:    r.UserID,
		Username:  r.Username,
		FirstName: r.FirstName,
		LastName:  r.LastName,
		Level:     r.Level,
		Discount:  r.Discount,
		Visits:    r.Visits,
		Staff:     r.StaffGold,
	}
	if r.StaffLevel != nil {
		c.StaffLevel = *r.StaffLevel
	}
	if r.StaffDiscount != nil {
		d := *r.StaffDiscount
		c.StaffDiscount = &d
	}
	return c
}
