package main

import (
	"context"
	"fmt"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/gorilla/websocket"
	influxdb2 "github.com/influxdata/influxdb-client-go"
	"github.com/influxdata/influxdb-client-go/api"

	"github.com/w1xm/skywatcher/internal/logging"
)

var (
	influxServer = kingpin.Flag("influx", "InfluxDB server URL").Envar("INFLUX_SERVER").Default("http://localhost:9999").String()
	influxToken  = kingpin.Flag("token", "InfluxDB token").Envar("INFLUX_TOKEN").String()
	org          = kingpin.Flag("org", "InfluxDB organization").Default("w1xm").String()
	bucket       = kingpin.Flag("bucket", "InfluxDB bucket").Default("eqmount.raw").String()
	mountAddress = kingpin.Flag("mount", "eqmountd status websocket").Envar("MOUNT_ADDRESS").Default("ws://localhost:8502/api/ws").String()
)

func main() {
	kingpin.Parse()
	log := logging.NewFromEnv()
	ctx := context.Background()

	client := influxdb2.NewClient(*influxServer, *influxToken)
	defer client.Close()
	// Get non-blocking write client
	writeApi := client.WriteApi(*org, *bucket)
	defer writeApi.Close()
	errorsCh := writeApi.Errors()
	go func() {
		for err := range errorsCh {
			log.Warn(ctx, "write error", logging.Err(err))
		}
	}()
	for {
		if err := logData(writeApi); err != nil {
			log.Warn(ctx, "reading mount status", logging.String("url", *mountAddress), logging.Err(err))
		}
		time.Sleep(1 * time.Second)
	}
}

// flattenStatus turns nested JSON into dotted field names, e.g.
// ra_axis.degrees.
func flattenStatus(fields map[string]interface{}, status interface{}, prefix string) {
	switch status := status.(type) {
	case map[string]interface{}:
		for k, v := range status {
			flattenStatus(fields, v, prefix+"."+k)
		}
	case []interface{}:
		for k, v := range status {
			flattenStatus(fields, v, fmt.Sprintf("%s.%d", prefix, k))
		}
	case nil:
	default:
		fields[prefix[1:]] = status
	}
}

// statusTime uses the mount's own snapshot time when it reports one.
func statusTime(fields map[string]interface{}) time.Time {
	if s, ok := fields["time"].(string); ok {
		delete(fields, "time")
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil && !t.IsZero() {
			return t
		}
	}
	return time.Now()
}

func logData(writeApi api.WriteApi) error {
	defer writeApi.Flush()
	var dialer websocket.Dialer
	conn, _, err := dialer.Dial(*mountAddress, nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	for {
		var status interface{}
		if err := conn.ReadJSON(&status); err != nil {
			return err
		}
		fields := make(map[string]interface{})
		flattenStatus(fields, status, "")
		ts := statusTime(fields)

		p := influxdb2.NewPoint("eqmount.status",
			map[string]string{"hemisphere": fmt.Sprint(fields["hemisphere"])},
			fields,
			ts,
		)
		// write asynchronously
		writeApi.WritePoint(p)
	}
}
