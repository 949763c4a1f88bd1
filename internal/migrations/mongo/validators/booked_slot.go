package validators

import "go.mongodb.org/mongo-driver/bson"

var slotKeySchema = bson.M{
	"bsonType": "object",
	"required": []string{"resource_id", "date", "time_slot"},
	"properties": bson.M{
		"resource_id": bson.M{
			"bsonType":  "string",
			"minLength": 1,
			"maxLength": 128,
		},
		"date": bson.M{
			"bsonType": "string",
			"pattern":  `^\d{4}-\d{2}-\d{2}$`,
		},
		"time_slot": bson.M{
			"bsonType": "string",
			"pattern":  `^\d{2}:\d{2}-\d{2}:\d{2}$`,
		},
	},
}

var BookedSlotValidator = bson.M{
	"$jsonSchema": bson.M{
		"bsonType": "object",
		"required": []string{
			"_id",
			"state",
			"booking_ref",
			"created_at",
		},
		"additionalProperties": true,

		"properties": bson.M{
			"_id": slotKeySchema,

			"locked_by": bson.M{
				"bsonType": "string",
			},

			"expires_at": bson.M{
				"bsonType": "date",
			},

			"state": bson.M{
				"bsonType": "string",
				"enum":     []string{"booked"},
			},

			"booking_ref": bson.M{
				"bsonType":  "string",
				"minLength": 1,
				"maxLength": 128,
			},

			"created_at": bson.M{
				"bsonType": "date",
			},
		},
	},
}
