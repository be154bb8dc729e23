package grpc

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"
)

// Сообщения SupportService на проводе: google.protobuf.Struct (см.
// api/proto/support/v1/support.proto), кодируются стандартным
// protobuf-кодеком gRPC. Внутри сервиса это обычные Go-структуры; поля
// Struct совпадают с их json-тегами.

// toStruct переводит Go-структуру в google.protobuf.Struct.
func toStruct(v interface{}) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return structpb.NewStruct(fields)
}

// fromStruct заполняет v полями s. Числа в Struct хранятся как double,
// поэтому id больше 2^53 не переживут перевод.
func fromStruct(s *structpb.Struct, v interface{}) error {
	data, err := json.Marshal(s.AsMap())
	if err != nil {
		return fmt.Errorf("decode message: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode message: %w", err)
	}
	return nil
}
