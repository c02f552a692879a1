// Command siscom-publish produces well-formed sample device records to
// a topic. Development tool for exercising the consumer end to end.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/JesusCabrera84/siscom-consumer/pkg/siscompb"
)

func main() {
	var (
		broker       string
		topic        string
		device       string
		manufacturer string
		count        int
		interval     time.Duration
	)
	flag.StringVar(&broker, "broker", "127.0.0.1:9092", "Kafka broker address.")
	flag.StringVar(&topic, "topic", "siscom-messages", "Topic to produce to.")
	flag.StringVar(&device, "device", "867730050855555", "Device id to stamp on the records.")
	flag.StringVar(&manufacturer, "manufacturer", "suntech", "Record variant: suntech or queclink.")
	flag.IntVar(&count, "count", 1, "Number of records to produce.")
	flag.DurationVar(&interval, "interval", 500*time.Millisecond, "Delay between records.")
	flag.Parse()

	if manufacturer != "suntech" && manufacturer != "queclink" {
		fmt.Fprintf(os.Stderr, "unknown manufacturer %q\n", manufacturer)
		os.Exit(1)
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(broker),
		kgo.DefaultProduceTopic(topic),
		kgo.AllowAutoTopicCreation(),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "creating kafka client: %v\n", err)
		os.Exit(1)
	}
	defer client.Close()

	ctx := context.Background()
	for i := 0; i < count; i++ {
		msg := sampleMessage(device, manufacturer, i)
		payload, err := msg.Marshal()
		if err != nil {
			fmt.Fprintf(os.Stderr, "encoding record: %v\n", err)
			os.Exit(1)
		}

		// Key by device id so per-device ordering survives partitioning.
		res := client.ProduceSync(ctx, &kgo.Record{Key: []byte(device), Value: payload})
		if err := res.FirstErr(); err != nil {
			fmt.Fprintf(os.Stderr, "producing record: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("produced %s record %s (device %s)\n", manufacturer, msg.UUID, device)

		if i < count-1 {
			time.Sleep(interval)
		}
	}
}

func sampleMessage(device, manufacturer string, seq int) *siscompb.Message {
	now := time.Now().UTC()
	raw := fmt.Sprintf("ST300STT;%s;45;532;%s;228;+19.432608;-99.133209;0.14;0.00;8;1;%d",
		device, now.Format("20060102;15:04:05"), 14337+seq)

	msg := &siscompb.Message{
		Data: map[string]string{
			"DEVICE_ID":            device,
			"MSG_CLASS":            "STT",
			"GPS_DATETIME":         now.Format("2006-01-02 15:04:05"),
			"GPS_EPOCH":            strconv.FormatInt(now.Unix(), 10),
			"LATITUD":              "+19.432608",
			"LONGITUD":             "-99.133209",
			"SPEED":                "0.14",
			"COURSE":               "0.00",
			"SATELLITES":           "8",
			"FIX_":                 "1",
			"MAIN_BATTERY_VOLTAGE": "12.53",
			"MODEL":                "ST300",
			"FIRMWARE":             "045",
			"MSG_COUNTER":          strconv.Itoa(14337 + seq),
			"CELL_ID":              "532",
			"LAC":                  "228",
			"MCC":                  "334",
			"MNC":                  "020",
		},
		Metadata: &siscompb.Metadata{
			Bytes:         int32(len(raw)),
			ClientIP:      "127.0.0.1",
			ClientPort:    5011,
			DecodedEpoch:  now.UnixMilli(),
			ReceivedEpoch: now.UnixMilli(),
			WorkerID:      1,
		},
		UUID: uuid.NewString(),
		Raw:  raw,
	}

	fields := &siscompb.DeviceFields{Fields: map[string]string{"HDR": "ST300STT", "DEV_ID": device}}
	if manufacturer == "queclink" {
		msg.Queclink = fields
	} else {
		msg.Suntech = fields
	}
	return msg
}
