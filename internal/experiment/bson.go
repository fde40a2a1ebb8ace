package experiment

import (
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
)

func (r ReactionTime) MarshalBSONValue() (bsontype.Type, []byte, error) {
	if !r.Valid {
		return bson.MarshalValue(notAvailable)
	}
	return bson.MarshalValue(r.Ms)
}

func (r *ReactionTime) UnmarshalBSONValue(t bsontype.Type, data []byte) error {
	v := bson.RawValue{Type: t, Value: data}
	switch t {
	case bsontype.String:
		if s := v.StringValue(); s != notAvailable {
			return fmt.Errorf("invalid reaction time %q", s)
		}
		*r = ReactionTime{}
	case bsontype.Int64:
		*r = ReactionTime{Ms: v.Int64(), Valid: true}
	case bsontype.Int32:
		*r = ReactionTime{Ms: int64(v.Int32()), Valid: true}
	case bsontype.Double:
		*r = ReactionTime{Ms: int64(v.Double()), Valid: true}
	case bsontype.Null:
		*r = ReactionTime{}
	default:
		return fmt.Errorf("invalid reaction time of BSON type %s", t)
	}
	return nil
}
