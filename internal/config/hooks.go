package config

import (
	"reflect"
	"strconv"
	"time"

	"github.com/mitchellh/mapstructure"
)

// secondsToDurationHookFunc decodes bare numbers into durations in seconds, so
// POLL_INTERVAL=3600 and poll-interval = "1h" mean the same thing.
func secondsToDurationHookFunc() mapstructure.DecodeHookFuncType {
	return func(f reflect.Type, t reflect.Type, data interface{}) (interface{}, error) {
		durationType := reflect.TypeOf(time.Duration(0))
		if t != durationType || f == durationType {
			return data, nil
		}

		switch f.Kind() {
		case reflect.String:
			seconds, err := strconv.ParseInt(data.(string), 10, 64)
			if err != nil {
				return data, nil
			}
			return time.Duration(seconds) * time.Second, nil
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			return time.Duration(reflect.ValueOf(data).Int()) * time.Second, nil
		case reflect.Float32, reflect.Float64:
			return time.Duration(reflect.ValueOf(data).Float() * float64(time.Second)), nil
		default:
			return data, nil
		}
	}
}
