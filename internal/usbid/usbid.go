// Package usbid reads the usb.ids database shipped with usbutils/hwdata and
// resolves vendor and product names.
package usbid

import (
	"bufio"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// DefaultPaths are the usual locations of usb.ids.
var DefaultPaths = []string{
	"/usr/share/hwdata/usb.ids",
	"/var/lib/usbutils/usb.ids",
	"/usr/share/misc/usb.ids",
	"/usr/share/usb.ids",
}

// ErrNoDatabase is returned by Open when none of the paths can be read.
var ErrNoDatabase = errors.New("usb.ids database not found")

// Database maps vendor and product ids to names. A nil *Database is valid
// and knows no names.
type Database struct {
	path     string
	vendors  map[uint16]string
	products map[uint32]string
}

// Open loads the first readable file in paths, DefaultPaths when empty.
func Open(paths ...string) (*Database, error) {
	if len(paths) == 0 {
		paths = DefaultPaths
	}
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			continue
		}
		db, err := Parse(f)
		f.Close()
		if err != nil {
			return nil, errors.Wrapf(err, "parse %s", path)
		}
		db.path = path
		return db, nil
	}
	return nil, errors.Wrapf(ErrNoDatabase, "searched %s", strings.Join(paths, ", "))
}

// Parse reads the usb.ids format: vendor lines "vvvv  Name", product lines
// indented by one tab, interface lines by two. Sections after the vendor
// list (classes, HID usages, ...) start with a keyword and are skipped.
func Parse(r io.Reader) (*Database, error) {
	db := &Database{
		vendors:  make(map[uint16]string),
		products: make(map[uint32]string),
	}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var vendor uint16
	inVendor := false
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || line[0] == '#' {
			continue
		}
		if strings.HasPrefix(line, "\t\t") {
			continue
		}
		if line[0] == '\t' {
			if !inVendor {
				continue
			}
			id, name, ok := splitEntry(line[1:])
			if ok {
				db.products[uint32(vendor)<<16|uint32(id)] = name
			}
			continue
		}
		id, name, ok := splitEntry(line)
		inVendor = ok
		if ok {
			vendor = id
			db.vendors[id] = name
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "read usb.ids")
	}
	return db, nil
}

// splitEntry splits "xxxx  Name" into its hex id and name.
func splitEntry(s string) (uint16, string, bool) {
	if len(s) < 6 || s[4] != ' ' {
		return 0, "", false
	}
	id, err := strconv.ParseUint(s[:4], 16, 16)
	if err != nil {
		return 0, "", false
	}
	return uint16(id), strings.TrimSpace(s[5:]), true
}

// Path returns the file the database was loaded from.
func (db *Database) Path() string {
	if db == nil {
		return ""
	}
	return db.path
}

// Vendor returns the vendor name or "".
func (db *Database) Vendor(vendorID uint16) string {
	if db == nil {
		return ""
	}
	return db.vendors[vendorID]
}

// Product returns the product name or "".
func (db *Database) Product(vendorID, productID uint16) string {
	if db == nil {
		return ""
	}
	return db.products[uint32(vendorID)<<16|uint32(productID)]
}

// Describe returns "Vendor Product" as lsusb prints it, or "" when the
// vendor is unknown.
func (db *Database) Describe(vendorID, productID uint16) string {
	v := db.Vendor(vendorID)
	if v == "" {
		return ""
	}
	if p := db.Product(vendorID, productID); p != "" {
		return v + " " + p
	}
	return v
}

// Len returns the number of vendors and products known.
func (db *Database) Len() (vendors, products int) {
	if db == nil {
		return 0, 0
	}
	return len(db.vendors), len(db.products)
}
