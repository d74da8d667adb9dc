package proto

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// CodecName имя кодека, под которым сообщения передаются по gRPC
const CodecName = "json"

// jsonCodec сериализует типы пакета в JSON вместо protobuf
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return CodecName
}

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// Codec возвращает JSON кодек для клиентских вызовов
func Codec() encoding.Codec {
	return jsonCodec{}
}
