package product

import (
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
)

// ParseCatalog decodes a JSON array of catalog items:
//
//	[{"id":"jkt-01","name":"Leather Jacket","price":249.90,"category":"apparel"}]
//
// Prices are read from the raw number text so no float rounding occurs.
func ParseCatalog(data []byte) ([]Product, error) {
	var out []Product
	d := jx.DecodeBytes(data)
	if err := d.Arr(func(d *jx.Decoder) error {
		var p Product
		if err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
			var err error
			switch string(key) {
			case "id":
				p.ID, err = d.Str()
			case "name":
				p.Name, err = d.Str()
			case "category":
				p.Category, err = d.Str()
			case "price":
				var num jx.Num
				if num, err = d.Num(); err != nil {
					return err
				}
				p.Price, err = decimal.NewFromString(num.String())
			default:
				err = d.Skip()
			}
			return err
		}); err != nil {
			return err
		}
		if p.ID == "" {
			return errors.New("product without id")
		}
		out = append(out, p)
		return nil
	}); err != nil {
		return nil, errors.Wrap(err, "decode catalog")
	}
	return out, nil
}
